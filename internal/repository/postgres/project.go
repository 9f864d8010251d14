package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
	"github.com/mosaiq-software/server-manager-sub000/internal/repository"
)

const projectColumns = `id, name, repo_owner, repo_name, repo_branch, state, deployment_key, allow_cicd,
	dirty_config, routing, compose, services, worker_node_id, has_docker_compose, has_dotenv,
	timeout_seconds, created_at, updated_at`

// projectRow holds the encoded form of a project's JSON columns.
type projectRow struct {
	routing  []byte
	compose  []byte
	services []byte
}

func encodeProject(p *domain.Project) (projectRow, error) {
	var row projectRow
	routing := p.Routing
	if routing.Servers == nil {
		routing.Servers = []domain.Server{}
	}
	var err error
	if row.routing, err = json.Marshal(routing); err != nil {
		return row, fmt.Errorf("encode routing: %w", err)
	}
	if p.Compose != nil {
		if row.compose, err = json.Marshal(p.Compose); err != nil {
			return row, fmt.Errorf("encode compose: %w", err)
		}
	}
	services := p.Services
	if services == nil {
		services = []domain.Service{}
	}
	if row.services, err = json.Marshal(services); err != nil {
		return row, fmt.Errorf("encode services: %w", err)
	}
	return row, nil
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var (
		p        domain.Project
		enc      projectRow
		workerID *string
		timeout  *int
	)
	if err := row.Scan(&p.ID, &p.Name, &p.RepoOwner, &p.RepoName, &p.RepoBranch, &p.State, &p.DeploymentKey,
		&p.AllowCICD, &p.DirtyConfig, &enc.routing, &enc.compose, &enc.services, &workerID,
		&p.HasDockerCompose, &p.HasDotenv, &timeout, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	if workerID != nil {
		p.WorkerNodeID = *workerID
	}
	p.TimeoutSeconds = timeout
	if len(enc.routing) > 0 {
		if err := json.Unmarshal(enc.routing, &p.Routing); err != nil {
			return nil, fmt.Errorf("decode routing for project %s: %w", p.ID, err)
		}
		if len(p.Routing.Servers) == 0 {
			p.Routing.Servers = nil
		}
	}
	if len(enc.compose) > 0 && string(enc.compose) != "null" {
		var compose domain.ComposeFile
		if err := json.Unmarshal(enc.compose, &compose); err != nil {
			return nil, fmt.Errorf("decode compose for project %s: %w", p.ID, err)
		}
		p.Compose = &compose
	}
	if len(enc.services) > 0 {
		if err := json.Unmarshal(enc.services, &p.Services); err != nil {
			return nil, fmt.Errorf("decode services for project %s: %w", p.ID, err)
		}
		if len(p.Services) == 0 {
			p.Services = nil
		}
	}
	return &p, nil
}

// CreateProject inserts a project.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	if project == nil {
		return fmt.Errorf("project required")
	}
	enc, err := encodeProject(project)
	if err != nil {
		return err
	}
	if project.State == "" {
		project.State = domain.StateReady
	}
	const query = `INSERT INTO projects (id, name, repo_owner, repo_name, repo_branch, state, deployment_key, allow_cicd,
			dirty_config, routing, compose, services, worker_node_id, has_docker_compose, has_dotenv, timeout_seconds,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
		RETURNING created_at, updated_at`
	err = r.pool.QueryRow(ctx, query,
		project.ID,
		project.Name,
		project.RepoOwner,
		project.RepoName,
		project.RepoBranch,
		project.State,
		bytesToNil(project.DeploymentKey),
		project.AllowCICD,
		project.DirtyConfig,
		enc.routing,
		bytesToNil(enc.compose),
		enc.services,
		emptyToNil(project.WorkerNodeID),
		project.HasDockerCompose,
		project.HasDotenv,
		intPtrToNil(project.TimeoutSeconds),
	).Scan(&project.CreatedAt, &project.UpdatedAt)
	return mapError(err)
}

// GetProjectByID fetches project details.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	return scanProject(r.pool.QueryRow(ctx, query, projectID))
}

// ListProjects returns all projects.
func (r *Repository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// UpdateProject overwrites mutable project fields.
func (r *Repository) UpdateProject(ctx context.Context, project *domain.Project) error {
	if project == nil {
		return fmt.Errorf("project required")
	}
	enc, err := encodeProject(project)
	if err != nil {
		return err
	}
	const query = `UPDATE projects
		SET name = $2,
			repo_owner = $3,
			repo_name = $4,
			repo_branch = $5,
			state = $6,
			deployment_key = $7,
			allow_cicd = $8,
			dirty_config = $9,
			routing = $10,
			compose = $11,
			services = $12,
			worker_node_id = $13,
			has_docker_compose = $14,
			has_dotenv = $15,
			timeout_seconds = $16,
			updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`
	err = r.pool.QueryRow(ctx, query,
		project.ID,
		project.Name,
		project.RepoOwner,
		project.RepoName,
		project.RepoBranch,
		project.State,
		bytesToNil(project.DeploymentKey),
		project.AllowCICD,
		project.DirtyConfig,
		enc.routing,
		bytesToNil(enc.compose),
		enc.services,
		emptyToNil(project.WorkerNodeID),
		project.HasDockerCompose,
		project.HasDotenv,
		intPtrToNil(project.TimeoutSeconds),
	).Scan(&project.UpdatedAt)
	return mapError(err)
}

// UpdateProjectState sets only the lifecycle state.
func (r *Repository) UpdateProjectState(ctx context.Context, projectID string, state domain.DeploymentState) error {
	const query = `UPDATE projects SET state = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID, state)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteProject removes a project; secrets and instances cascade.
func (r *Repository) DeleteProject(ctx context.Context, projectID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
