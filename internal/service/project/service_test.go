package project

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
	"github.com/mosaiq-software/server-manager-sub000/internal/gitsource"
	"github.com/mosaiq-software/server-manager-sub000/internal/repository/memory"
)

type stubReader struct {
	files map[string]string
	calls int
	err   error
}

func (r *stubReader) Read(ctx context.Context, owner, name, branch string) (*gitsource.Contents, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	fs := memfs.New()
	for path, body := range r.files {
		if err := util.WriteFile(fs, path, []byte(body), 0o644); err != nil {
			return nil, err
		}
	}
	return gitsource.Inspect(fs, 0)
}

func newTestService(t *testing.T, reader RepositoryReader) (Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	project := &domain.Project{ID: "project-1", Name: "site", RepoOwner: "acme", RepoName: "site", RepoBranch: "main"}
	if err := store.CreateProject(context.Background(), project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, store, reader, log), store
}

func TestSyncReplacesSecretsAndConfiguration(t *testing.T) {
	reader := &stubReader{files: map[string]string{
		".env":               "DB_PASSWORD=hunter2\n",
		"docker-compose.yml": "services:\n  web:\n    image: nginx\n    environment:\n      - API_URL\n",
		"routing.yml":        "servers:\n  - domain: site.example.com\n    locations:\n      - path: /\n        proxy: {pass: \"80\"}\n",
		"index.js":           "process.env.SESSION_SECRET",
	}}
	svc, store := newTestService(t, reader)
	ctx := context.Background()
	if err := store.UpsertSecret(ctx, domain.Secret{ProjectID: "project-1", SecretName: "API_URL", SecretValue: "kept"}); err != nil {
		t.Fatalf("seed secret: %v", err)
	}
	if err := store.UpsertSecret(ctx, domain.Secret{ProjectID: "project-1", SecretName: "STALE", SecretValue: "gone"}); err != nil {
		t.Fatalf("seed secret: %v", err)
	}

	project, err := svc.Sync(ctx, "project-1")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !project.HasDockerCompose || !project.HasDotenv || project.DirtyConfig {
		t.Fatalf("unexpected flags %+v", project)
	}
	if len(project.Services) != 1 || project.Services[0].ContainerName != "project-1-web-1" {
		t.Fatalf("unexpected services %+v", project.Services)
	}
	if len(project.Routing.Servers) != 1 || project.Routing.Servers[0].Domain != "site.example.com" {
		t.Fatalf("routing manifest not applied: %+v", project.Routing)
	}

	stored, err := store.ListSecrets(ctx, "project-1")
	if err != nil {
		t.Fatalf("ListSecrets: %v", err)
	}
	values := make(map[string]string, len(stored))
	for _, secret := range stored {
		values[secret.SecretName] = secret.SecretValue
	}
	if len(values) != 3 {
		t.Fatalf("expected 3 secrets after full replace, got %v", values)
	}
	if values["API_URL"] != "kept" || values["DB_PASSWORD"] != "hunter2" {
		t.Fatalf("unexpected secret values %v", values)
	}
	if _, ok := values["SESSION_SECRET"]; !ok {
		t.Fatalf("source-scanned name missing: %v", values)
	}
	if _, ok := values["STALE"]; ok {
		t.Fatalf("stale secret survived sync")
	}
}

func TestSyncRequiresRepository(t *testing.T) {
	reader := &stubReader{}
	svc, store := newTestService(t, reader)
	ctx := context.Background()
	if err := store.CreateProject(ctx, &domain.Project{ID: "bare"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := svc.Sync(ctx, "bare"); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if reader.calls != 0 {
		t.Fatalf("reader should not be called")
	}
}

func TestSyncMissingProject(t *testing.T) {
	svc, _ := newTestService(t, &stubReader{})
	if _, err := svc.Sync(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRoutingMarksDirty(t *testing.T) {
	svc, _ := newTestService(t, &stubReader{})
	model := domain.RoutingModel{Servers: []domain.Server{{
		ServerID: "s1",
		Domain:   "a.example.com",
		Locations: []domain.Location{{
			LocationID: "l1",
			Path:       "/",
			Type:       domain.LocationRedirect,
			Redirect:   &domain.RedirectLocation{Target: "https://b.example.com"},
		}},
	}}}
	project, err := svc.UpdateRouting(context.Background(), "project-1", model)
	if err != nil {
		t.Fatalf("UpdateRouting: %v", err)
	}
	if !project.DirtyConfig {
		t.Fatalf("expected dirty config")
	}

	model.Servers[0].Locations[0].Type = domain.LocationStatic
	if _, err := svc.UpdateRouting(context.Background(), "project-1", model); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for mismatched variant, got %v", err)
	}
}

func TestDeploymentKeyLifecycle(t *testing.T) {
	svc, store := newTestService(t, &stubReader{})
	ctx := context.Background()

	key, err := svc.RotateDeploymentKey(ctx, "project-1")
	if err != nil {
		t.Fatalf("RotateDeploymentKey: %v", err)
	}
	if err := svc.AuthorizeDeploymentKey(ctx, "project-1", key); !errors.Is(err, ErrCICDDisabled) {
		t.Fatalf("expected ErrCICDDisabled, got %v", err)
	}

	project, err := store.GetProjectByID(ctx, "project-1")
	if err != nil {
		t.Fatalf("GetProjectByID: %v", err)
	}
	if string(project.DeploymentKey) == key {
		t.Fatalf("deployment key stored in plaintext")
	}
	project.AllowCICD = true
	if err := store.UpdateProject(ctx, project); err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}

	if err := svc.AuthorizeDeploymentKey(ctx, "project-1", key); err != nil {
		t.Fatalf("AuthorizeDeploymentKey: %v", err)
	}
	if err := svc.AuthorizeDeploymentKey(ctx, "project-1", "wrong"); !errors.Is(err, ErrInvalidDeploymentKey) {
		t.Fatalf("expected ErrInvalidDeploymentKey, got %v", err)
	}
}
