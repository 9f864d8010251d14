package gitsource

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/go-cmp/cmp"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
)

func writeFiles(t *testing.T, files map[string]string) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	for name, body := range files {
		if err := util.WriteFile(fs, name, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return fs
}

func TestParseComposeAcceptsListAndMapEnvironment(t *testing.T) {
	doc := `
services:
  web:
    image: node:20
    environment:
      - API_URL
      - MODE=production
    ports:
      - "8080:3000"
    depends_on: [db]
  db:
    image: postgres:16
    container_name: shared-db
    environment:
      POSTGRES_PASSWORD: secret
      POSTGRES_USER:
    depends_on:
      cache:
        condition: service_started
`
	compose, _, err := ParseCompose([]byte(doc))
	if err != nil {
		t.Fatalf("ParseCompose: %v", err)
	}
	web := compose.Services["web"]
	wantWeb := []domain.EnvDeclaration{{Name: "API_URL"}, {Name: "MODE", Value: "production", HasValue: true}}
	if diff := cmp.Diff(wantWeb, web.Environment); diff != "" {
		t.Fatalf("web env mismatch (-want +got):\n%s", diff)
	}
	db := compose.Services["db"]
	wantDB := []domain.EnvDeclaration{{Name: "POSTGRES_PASSWORD", Value: "secret", HasValue: true}, {Name: "POSTGRES_USER"}}
	if diff := cmp.Diff(wantDB, db.Environment); diff != "" {
		t.Fatalf("db env mismatch (-want +got):\n%s", diff)
	}
	if len(db.DependsOn) != 1 || db.DependsOn[0] != "cache" {
		t.Fatalf("expected map-form depends_on, got %v", db.DependsOn)
	}
	if diff := cmp.Diff([]string{"web", "db"}, compose.ServiceNames()); diff != "" {
		t.Fatalf("service order mismatch (-want +got):\n%s", diff)
	}
}

func TestParseComposeRejectsMalformedYAML(t *testing.T) {
	_, _, err := ParseCompose([]byte("services: [unclosed"))
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestServicesSortedWithNormalisedPorts(t *testing.T) {
	doc := `
services:
  worker:
    image: app
    labels:
      servermanager.collect-logs: "false"
  api:
    image: app
    ports:
      - "127.0.0.1:8080:3000/tcp"
      - target: 9000
        published: "9001"
        protocol: udp
      - "${API_PORT}:3000"
`
	compose, labels, err := ParseCompose([]byte(doc))
	if err != nil {
		t.Fatalf("ParseCompose: %v", err)
	}
	services, err := Services("p1", compose, labels)
	if err != nil {
		t.Fatalf("Services: %v", err)
	}
	want := []domain.Service{
		{
			ServiceName:   "api",
			ContainerName: "p1-api-1",
			Image:         "app",
			CollectLogs:   true,
			Ports: []domain.ServicePort{
				{Container: "3000", Host: "8080", HostIP: "127.0.0.1", Protocol: "tcp"},
				{Container: "9000", Host: "9001", Protocol: "udp"},
				{Container: "${API_PORT}:3000", Protocol: "tcp"},
			},
		},
		{ServiceName: "worker", ContainerName: "p1-worker-1", Image: "app"},
	}
	if diff := cmp.Diff(want, services); diff != "" {
		t.Fatalf("services mismatch (-want +got):\n%s", diff)
	}
}

func TestParseManifestDerivesStableIDs(t *testing.T) {
	doc := `
servers:
  - domain: App.Example.com
    locations:
      - path: /
        static: {serveDir: dist, spa: true}
      - path: /api
        proxy: {pass: "3000", websocket: true, timeout: 30}
      - id: legacy
        path: /old
        redirect: https://example.com/new
`
	first, err := ParseManifest([]byte(doc))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	second, err := ParseManifest([]byte(doc))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("ids are not stable:\n%s", diff)
	}
	srv := first.Servers[0]
	if srv.Domain != "app.example.com" || len(srv.ServerID) != idLength {
		t.Fatalf("unexpected server %+v", srv)
	}
	if srv.Locations[0].LocationID == srv.Locations[1].LocationID {
		t.Fatalf("expected distinct location ids")
	}
	if srv.Locations[2].LocationID != "legacy" {
		t.Fatalf("explicit id overwritten: %s", srv.Locations[2].LocationID)
	}
	proxy := srv.Locations[1]
	if proxy.Type != domain.LocationProxy || proxy.Proxy.TimeoutSeconds == nil || *proxy.Proxy.TimeoutSeconds != 30 {
		t.Fatalf("unexpected proxy location %+v", proxy)
	}
}

func TestParseManifestRejectsEmptyLocation(t *testing.T) {
	doc := "servers:\n  - domain: a.example.com\n    locations:\n      - path: /\n"
	if _, err := ParseManifest([]byte(doc)); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestScanEnvNamesSkipsVendoredAndLargeFiles(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"src/index.js":            "const u = process.env.DATABASE_URL; const k = process.env['API_KEY'];",
		"main.go":                 `v := os.Getenv("LISTEN_ADDR")`,
		"app/settings.py":         `os.environ.get("DJANGO_SECRET") or os.environ["DEBUG"]`,
		"node_modules/x/index.js": "process.env.IGNORED_DEP",
		"vendor/lib/lib.go":       `os.Getenv("IGNORED_VENDOR")`,
		"big/blob.js":             "process.env.TOO_BIG " + strings.Repeat(" ", 256),
		"config/boot.rb":          `ENV["RAILS_ENV"]`,
		"duplicate/again.js":      "process.env.DATABASE_URL",
	})
	names, err := ScanEnvNames(fs, 128)
	if err != nil {
		t.Fatalf("ScanEnvNames: %v", err)
	}
	want := []string{"API_KEY", "DATABASE_URL", "DEBUG", "DJANGO_SECRET", "LISTEN_ADDR", "RAILS_ENV"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestInspectReadsRepositoryInputs(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		".env":         "DB_PASSWORD=hunter2\n",
		"compose.yaml": "services:\n  web:\n    image: nginx\n    environment: [DB_PASSWORD]\n",
		"routing.yml":  "servers:\n  - domain: web.example.com\n    locations:\n      - path: /\n        proxy: {pass: \"80\"}\n",
		"server.js":    "process.env.PORT",
	})
	contents, err := Inspect(fs, 0)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !contents.HasDotenv || contents.DotEnv != "DB_PASSWORD=hunter2\n" {
		t.Fatalf("unexpected dotenv %+v", contents)
	}
	if !contents.HasCompose || contents.Compose.Services["web"].Image != "nginx" {
		t.Fatalf("compose not parsed: %+v", contents.Compose)
	}
	if contents.Routing == nil || contents.Routing.Servers[0].Domain != "web.example.com" {
		t.Fatalf("manifest not parsed: %+v", contents.Routing)
	}
	if diff := cmp.Diff([]string{"PORT"}, contents.SourceNames); diff != "" {
		t.Fatalf("source names mismatch:\n%s", diff)
	}
	services, err := contents.Services("proj")
	if err != nil || len(services) != 1 || services[0].ContainerName != "proj-web-1" {
		t.Fatalf("unexpected services %+v err=%v", services, err)
	}
}

func TestInspectEmptyRepository(t *testing.T) {
	contents, err := Inspect(memfs.New(), 0)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if contents.HasDotenv || contents.HasCompose || contents.Routing != nil || len(contents.SourceNames) != 0 {
		t.Fatalf("expected empty contents, got %+v", contents)
	}
}

func TestRepoURL(t *testing.T) {
	r := NewReader(Options{BaseURL: "https://git.example.com/"}, nil)
	if got := r.RepoURL("acme", "site.git"); got != "https://git.example.com/acme/site.git" {
		t.Fatalf("unexpected url %s", got)
	}
}
