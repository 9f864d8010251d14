package project

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"log/slog"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
	"github.com/mosaiq-software/server-manager-sub000/internal/gitsource"
	"github.com/mosaiq-software/server-manager-sub000/internal/repository"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/secrets"
	"github.com/mosaiq-software/server-manager-sub000/pkg/crypto"
)

// RepositoryReader fetches deployment inputs from a project's repository.
type RepositoryReader interface {
	Read(ctx context.Context, owner, name, branch string) (*gitsource.Contents, error)
}

// Service orchestrates project configuration: repository sync, routing edits and CI keys.
type Service struct {
	projects repository.ProjectRepository
	secrets  repository.SecretRepository
	reader   RepositoryReader
	logger   *slog.Logger
}

// New returns a project service.
func New(projects repository.ProjectRepository, secretRepo repository.SecretRepository, reader RepositoryReader, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{projects: projects, secrets: secretRepo, reader: reader, logger: logger.With("component", "project")}
}

var (
	errMissingProjectID = errors.New("project id required")

	// ErrCICDDisabled is returned when a deployment key is presented for a project that does not allow CI deploys.
	ErrCICDDisabled = errors.New("ci/cd deploys disabled for project")
	// ErrInvalidDeploymentKey is returned when the presented key does not match.
	ErrInvalidDeploymentKey = errors.New("invalid deployment key")
)

// Get returns project details by identifier.
func (s Service) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: project %s", domain.ErrNotFound, projectID)
		}
		return nil, err
	}
	return project, nil
}

// Sync re-reads the repository, replaces the secret set and refreshes the compose-derived
// configuration. A routing manifest in the repository replaces the stored routing model.
func (s Service) Sync(ctx context.Context, projectID string) (*domain.Project, error) {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !project.HasRepo() {
		return nil, fmt.Errorf("%w: project %s has no repository", domain.ErrInvalidConfig, project.ID)
	}
	contents, err := s.reader.Read(ctx, project.RepoOwner, project.RepoName, project.RepoBranch)
	if err != nil {
		return nil, err
	}
	existing, err := s.secrets.ListSecrets(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	merged, err := secrets.Reconcile(project.ID, secrets.Discovery{
		DotEnv:      contents.DotEnv,
		Compose:     contents.Compose,
		SourceNames: contents.SourceNames,
	}, existing)
	if err != nil {
		return nil, err
	}
	services, err := contents.Services(project.ID)
	if err != nil {
		return nil, err
	}
	if err := s.secrets.ReplaceSecrets(ctx, project.ID, merged); err != nil {
		return nil, err
	}

	project.Compose = contents.Compose
	project.HasDockerCompose = contents.HasCompose
	project.HasDotenv = contents.HasDotenv
	project.Services = services
	if contents.Routing != nil {
		project.Routing = *contents.Routing
	}
	project.DirtyConfig = false
	if err := s.projects.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("project synced",
		"project_id", project.ID,
		"secrets", len(merged),
		"services", len(services),
		"compose", project.HasDockerCompose,
		"routing_manifest", contents.Routing != nil,
	)
	return project, nil
}

// UpdateRouting validates and stores a new routing model, marking the configuration dirty.
func (s Service) UpdateRouting(ctx context.Context, projectID string, model domain.RoutingModel) (*domain.Project, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	project.Routing = model
	project.DirtyConfig = true
	if err := s.projects.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("routing updated", "project_id", project.ID, "servers", len(model.Servers))
	return project, nil
}

// RotateDeploymentKey issues a new CI deployment key. The plaintext is only returned here.
func (s Service) RotateDeploymentKey(ctx context.Context, projectID string) (string, error) {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return "", err
	}
	plain, err := crypto.GenerateKey(32)
	if err != nil {
		return "", err
	}
	hash, err := crypto.HashKey(plain)
	if err != nil {
		return "", err
	}
	project.DeploymentKey = hash
	if err := s.projects.UpdateProject(ctx, project); err != nil {
		return "", err
	}
	s.logger.Info("deployment key rotated", "project_id", project.ID)
	return plain, nil
}

// AuthorizeDeploymentKey checks a CI deployment key against the stored hash.
func (s Service) AuthorizeDeploymentKey(ctx context.Context, projectID, key string) error {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if !project.AllowCICD {
		return ErrCICDDisabled
	}
	if len(project.DeploymentKey) == 0 || strings.TrimSpace(key) == "" {
		return ErrInvalidDeploymentKey
	}
	if err := crypto.CompareKey(project.DeploymentKey, key); err != nil {
		return ErrInvalidDeploymentKey
	}
	return nil
}
