// Package ingress compiles routing models into nginx configuration.
package ingress

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
)

const (
	defaultCertRoot = "/etc/letsencrypt/live"
	defaultACMERoot = "/var/www/certbot"
)

// Compiler renders nginx server blocks. The zero value uses default certificate paths.
type Compiler struct {
	CertRoot string
	ACMERoot string
}

// Compile renders model with the default Compiler.
func Compile(model domain.RoutingModel) (string, []string, error) {
	return Compiler{}.Compile(model)
}

// Compile returns the config text and one certificate domain per server. Output depends only on
// the declared server and location order.
func (c Compiler) Compile(model domain.RoutingModel) (string, []string, error) {
	certRoot := strings.TrimRight(firstNonEmpty(c.CertRoot, defaultCertRoot), "/")
	acmeRoot := firstNonEmpty(c.ACMERoot, defaultACMERoot)

	w := &confWriter{}
	domains := make([]string, 0, len(model.Servers))
	for i, srv := range model.Servers {
		if err := checkToken("domain", srv.Domain); err != nil {
			return "", nil, err
		}
		names := srv.Domain
		if srv.Wildcard {
			names += " *." + srv.Domain
		}
		if i > 0 {
			w.blank()
		}

		w.open("server")
		w.line("listen 80;")
		w.line("listen [::]:80;")
		w.line("server_name " + names + ";")
		w.open("location /.well-known/acme-challenge/")
		w.line("root " + acmeRoot + ";")
		w.close()
		w.open("location /")
		w.line("return 301 https://$host$request_uri;")
		w.close()
		w.close()
		w.blank()

		w.open("server")
		w.line("listen 443 ssl;")
		w.line("listen [::]:443 ssl;")
		w.line("server_name " + names + ";")
		w.line("ssl_certificate " + certRoot + "/" + srv.Domain + "/fullchain.pem;")
		w.line("ssl_certificate_key " + certRoot + "/" + srv.Domain + "/privkey.pem;")
		for _, loc := range srv.Locations {
			w.blank()
			if err := writeLocation(w, loc); err != nil {
				return "", nil, fmt.Errorf("server %s: %w", srv.ServerID, err)
			}
		}
		w.close()

		domains = append(domains, srv.Domain)
	}
	return w.String(), domains, nil
}

func writeLocation(w *confWriter, loc domain.Location) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	if err := checkPath(loc.Path); err != nil {
		return fmt.Errorf("location %s: %w", loc.LocationID, err)
	}
	w.open("location " + loc.Path)
	switch loc.Type {
	case domain.LocationStatic:
		if err := writeStatic(w, loc.Path, *loc.Static); err != nil {
			return fmt.Errorf("location %s: %w", loc.LocationID, err)
		}
	case domain.LocationProxy:
		if err := writeProxy(w, *loc.Proxy); err != nil {
			return fmt.Errorf("location %s: %w", loc.LocationID, err)
		}
	case domain.LocationRedirect:
		if err := checkToken("redirect target", loc.Redirect.Target); err != nil {
			return fmt.Errorf("location %s: %w", loc.LocationID, err)
		}
		w.line("return 301 " + loc.Redirect.Target + ";")
	case domain.LocationCustom:
		w.raw(loc.Custom.Content)
	default:
		return fmt.Errorf("%w: location %s has unknown type %q", domain.ErrInvalidConfig, loc.LocationID, loc.Type)
	}
	w.close()
	return nil
}

func writeStatic(w *confWriter, path string, s domain.StaticLocation) error {
	if err := checkToken("serve directory", s.ServeDir); err != nil {
		return err
	}
	if path == "/" {
		w.line("root " + s.ServeDir + ";")
	} else {
		w.line("alias " + s.ServeDir + ";")
	}
	w.line("index index.html;")
	if s.ExplicitCORS {
		w.open("if ($request_method = OPTIONS)")
		w.line(`add_header Access-Control-Allow-Origin "*" always;`)
		w.line(`add_header Access-Control-Allow-Methods "GET, HEAD, OPTIONS" always;`)
		w.line(`add_header Access-Control-Allow-Headers "*" always;`)
		w.line("add_header Access-Control-Max-Age 86400 always;")
		w.line("return 204;")
		w.close()
		w.line(`add_header Access-Control-Allow-Origin "*" always;`)
		w.line(`add_header Access-Control-Expose-Headers "Content-Length, Content-Range" always;`)
	}
	if s.SPA {
		fallback := strings.TrimRight(path, "/") + "/index.html"
		w.line("try_files $uri $uri/ " + fallback + ";")
		w.line(`add_header Cache-Control "no-cache, no-store, must-revalidate";`)
		w.line("expires -1;")
		return nil
	}
	w.line("try_files $uri $uri/ =404;")
	return nil
}

func writeProxy(w *confWriter, p domain.ProxyLocation) error {
	if err := checkToken("proxy target", p.ProxyPass); err != nil {
		return err
	}
	w.line("proxy_pass " + p.ProxyPass + ";")
	w.line("proxy_http_version 1.1;")
	w.line("proxy_set_header Host $host;")
	w.line("proxy_set_header X-Real-IP $remote_addr;")
	w.line("proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;")
	w.line("proxy_set_header X-Forwarded-Proto $scheme;")
	if p.WebsocketSupport {
		w.line("proxy_set_header Upgrade $http_upgrade;")
		w.line(`proxy_set_header Connection "upgrade";`)
	}
	if p.TimeoutSeconds != nil && *p.TimeoutSeconds > 0 {
		seconds := strconv.Itoa(*p.TimeoutSeconds) + "s"
		w.line("proxy_connect_timeout " + seconds + ";")
		w.line("proxy_send_timeout " + seconds + ";")
		w.line("proxy_read_timeout " + seconds + ";")
	}
	if p.MaxBodySizeMB != nil && *p.MaxBodySizeMB >= 0 {
		w.line("client_max_body_size " + strconv.Itoa(*p.MaxBodySizeMB) + "m;")
	}
	return nil
}

func checkPath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: path %q must start with /", domain.ErrInvalidConfig, path)
	}
	return checkToken("path", path)
}

// checkToken rejects values that would break out of a single nginx directive.
func checkToken(what, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: empty %s", domain.ErrInvalidConfig, what)
	}
	if strings.ContainsAny(v, " \t\r\n;{}\"'") {
		return fmt.Errorf("%w: %s %q contains reserved characters", domain.ErrInvalidConfig, what, v)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
