package gitsource

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
)

// ManifestFileName is the optional routing manifest at the repository root.
const ManifestFileName = "routing.yml"

const idLength = 12

type rawManifest struct {
	Servers []rawServer `yaml:"servers"`
}

type rawServer struct {
	ID        string        `yaml:"id"`
	Domain    string        `yaml:"domain"`
	Wildcard  bool          `yaml:"wildcard"`
	Locations []rawLocation `yaml:"locations"`
}

type rawLocation struct {
	ID       string     `yaml:"id"`
	Path     string     `yaml:"path"`
	Static   *rawStatic `yaml:"static"`
	Proxy    *rawProxy  `yaml:"proxy"`
	Redirect *string    `yaml:"redirect"`
	Custom   *string    `yaml:"custom"`
}

type rawStatic struct {
	ServeDir string `yaml:"serveDir"`
	SPA      bool   `yaml:"spa"`
	CORS     bool   `yaml:"cors"`
}

type rawProxy struct {
	Pass          string `yaml:"pass"`
	Websocket     bool   `yaml:"websocket"`
	Timeout       *int   `yaml:"timeout"`
	MaxBodySizeMB *int   `yaml:"maxBodySizeMb"`
}

// ParseManifest decodes routing.yml into a validated routing model. Servers and locations
// without explicit ids get ids derived from their domain and path.
func ParseManifest(data []byte) (domain.RoutingModel, error) {
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return domain.RoutingModel{}, fmt.Errorf("%w: parse %s: %v", domain.ErrInvalidConfig, ManifestFileName, err)
	}
	model := domain.RoutingModel{Servers: make([]domain.Server, 0, len(raw.Servers))}
	for _, rs := range raw.Servers {
		host := strings.ToLower(strings.TrimSpace(rs.Domain))
		srv := domain.Server{
			ServerID:  rs.ID,
			Domain:    host,
			Wildcard:  rs.Wildcard,
			Locations: make([]domain.Location, 0, len(rs.Locations)),
		}
		if srv.ServerID == "" {
			srv.ServerID = derivedID(host)
		}
		for _, rl := range rs.Locations {
			loc, err := manifestLocation(host, rl)
			if err != nil {
				return domain.RoutingModel{}, err
			}
			srv.Locations = append(srv.Locations, loc)
		}
		model.Servers = append(model.Servers, srv)
	}
	if err := model.Validate(); err != nil {
		return domain.RoutingModel{}, err
	}
	return model, nil
}

func manifestLocation(host string, rl rawLocation) (domain.Location, error) {
	path := strings.TrimSpace(rl.Path)
	if path == "" {
		path = "/"
	}
	loc := domain.Location{LocationID: rl.ID, Path: path}
	if loc.LocationID == "" {
		loc.LocationID = derivedID(host + path)
	}
	switch {
	case rl.Static != nil:
		loc.Type = domain.LocationStatic
		loc.Static = &domain.StaticLocation{ServeDir: rl.Static.ServeDir, SPA: rl.Static.SPA, ExplicitCORS: rl.Static.CORS}
	case rl.Proxy != nil:
		loc.Type = domain.LocationProxy
		loc.Proxy = &domain.ProxyLocation{
			ProxyPass:        rl.Proxy.Pass,
			WebsocketSupport: rl.Proxy.Websocket,
			TimeoutSeconds:   rl.Proxy.Timeout,
			MaxBodySizeMB:    rl.Proxy.MaxBodySizeMB,
		}
	case rl.Redirect != nil:
		loc.Type = domain.LocationRedirect
		loc.Redirect = &domain.RedirectLocation{Target: *rl.Redirect}
	case rl.Custom != nil:
		loc.Type = domain.LocationCustom
		loc.Custom = &domain.CustomLocation{Content: *rl.Custom}
	default:
		return domain.Location{}, fmt.Errorf("%w: %s%s declares no static, proxy, redirect or custom block", domain.ErrInvalidConfig, host, path)
	}
	return loc, loc.Validate()
}

func derivedID(seed string) string {
	sum := sha1.Sum([]byte(seed))
	return hex.EncodeToString(sum[:])[:idLength]
}
