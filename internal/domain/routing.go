package domain

import (
	"fmt"
	"strings"
)

// LocationType tags the Location variant.
type LocationType string

const (
	LocationStatic   LocationType = "static"
	LocationProxy    LocationType = "proxy"
	LocationRedirect LocationType = "redirect"
	LocationCustom   LocationType = "custom"
)

// RoutingModel is the ordered set of virtual servers exposed for a project.
type RoutingModel struct {
	Servers []Server `json:"servers"`
}

// Server is a virtual host.
type Server struct {
	ServerID  string     `json:"serverId"`
	Domain    string     `json:"domain"`
	Wildcard  bool       `json:"wildcard,omitempty"`
	Locations []Location `json:"locations"`
}

// Location is a path-prefix routing rule. Exactly one variant matching Type is populated.
type Location struct {
	LocationID string            `json:"locationId"`
	Path       string            `json:"path"`
	Type       LocationType      `json:"type"`
	Static     *StaticLocation   `json:"static,omitempty"`
	Proxy      *ProxyLocation    `json:"proxy,omitempty"`
	Redirect   *RedirectLocation `json:"redirect,omitempty"`
	Custom     *CustomLocation   `json:"custom,omitempty"`
}

// StaticLocation serves files from a directory on the worker.
type StaticLocation struct {
	ServeDir     string `json:"serveDir"`
	SPA          bool   `json:"spa,omitempty"`
	ExplicitCORS bool   `json:"explicitCors,omitempty"`
}

// ProxyLocation forwards to an upstream. ProxyPass holds a container port before deploy-time substitution.
type ProxyLocation struct {
	ProxyPass        string `json:"proxyPass"`
	WebsocketSupport bool   `json:"websocketSupport,omitempty"`
	TimeoutSeconds   *int   `json:"timeoutSeconds,omitempty"`
	MaxBodySizeMB    *int   `json:"maxBodySizeMb,omitempty"`
}

// RedirectLocation issues a permanent redirect.
type RedirectLocation struct {
	Target string `json:"target"`
}

// CustomLocation embeds raw directives verbatim.
type CustomLocation struct {
	Content string `json:"content"`
}

// Validate checks that the tag matches exactly one populated variant.
func (l Location) Validate() error {
	populated := 0
	for _, set := range []bool{l.Static != nil, l.Proxy != nil, l.Redirect != nil, l.Custom != nil} {
		if set {
			populated++
		}
	}
	if populated != 1 {
		return fmt.Errorf("%w: location %s must carry exactly one variant, has %d", ErrInvalidConfig, l.LocationID, populated)
	}
	var ok bool
	switch l.Type {
	case LocationStatic:
		ok = l.Static != nil
	case LocationProxy:
		ok = l.Proxy != nil
	case LocationRedirect:
		ok = l.Redirect != nil
	case LocationCustom:
		ok = l.Custom != nil
	default:
		return fmt.Errorf("%w: location %s has unknown type %q", ErrInvalidConfig, l.LocationID, l.Type)
	}
	if !ok {
		return fmt.Errorf("%w: location %s type %q does not match its variant", ErrInvalidConfig, l.LocationID, l.Type)
	}
	return nil
}

// Validate checks ids, domains and every location.
func (m RoutingModel) Validate() error {
	servers := make(map[string]struct{}, len(m.Servers))
	for _, srv := range m.Servers {
		if strings.TrimSpace(srv.ServerID) == "" {
			return fmt.Errorf("%w: server id required", ErrInvalidConfig)
		}
		if _, dup := servers[srv.ServerID]; dup {
			return fmt.Errorf("%w: duplicate server id %s", ErrInvalidConfig, srv.ServerID)
		}
		servers[srv.ServerID] = struct{}{}
		if strings.TrimSpace(srv.Domain) == "" {
			return fmt.Errorf("%w: server %s has no domain", ErrInvalidConfig, srv.ServerID)
		}
		locations := make(map[string]struct{}, len(srv.Locations))
		for _, loc := range srv.Locations {
			if strings.TrimSpace(loc.LocationID) == "" {
				return fmt.Errorf("%w: server %s has a location without id", ErrInvalidConfig, srv.ServerID)
			}
			if _, dup := locations[loc.LocationID]; dup {
				return fmt.Errorf("%w: duplicate location id %s", ErrInvalidConfig, loc.LocationID)
			}
			locations[loc.LocationID] = struct{}{}
			if err := loc.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Server returns the server with the given id.
func (m RoutingModel) Server(id string) (Server, bool) {
	for _, srv := range m.Servers {
		if srv.ServerID == id {
			return srv, true
		}
	}
	return Server{}, false
}

// Location returns the location with the given id inside a server.
func (s Server) Location(id string) (Location, bool) {
	for _, loc := range s.Locations {
		if loc.LocationID == id {
			return loc, true
		}
	}
	return Location{}, false
}

// Clone returns a deep copy so deploy-time substitutions never leak into the stored model.
func (m RoutingModel) Clone() RoutingModel {
	if m.Servers == nil {
		return RoutingModel{}
	}
	out := RoutingModel{Servers: make([]Server, len(m.Servers))}
	for i, srv := range m.Servers {
		cp := srv
		if srv.Locations != nil {
			cp.Locations = make([]Location, len(srv.Locations))
			for j, loc := range srv.Locations {
				cp.Locations[j] = loc.clone()
			}
		}
		out.Servers[i] = cp
	}
	return out
}

func (l Location) clone() Location {
	cp := l
	if l.Static != nil {
		v := *l.Static
		cp.Static = &v
	}
	if l.Proxy != nil {
		v := *l.Proxy
		v.TimeoutSeconds = cloneInt(l.Proxy.TimeoutSeconds)
		v.MaxBodySizeMB = cloneInt(l.Proxy.MaxBodySizeMB)
		cp.Proxy = &v
	}
	if l.Redirect != nil {
		v := *l.Redirect
		cp.Redirect = &v
	}
	if l.Custom != nil {
		v := *l.Custom
		cp.Custom = &v
	}
	return cp
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
