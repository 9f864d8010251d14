package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
	"github.com/mosaiq-software/server-manager-sub000/internal/repository"
)

const instanceColumns = `id, project_id, worker_node_id, state, deployment_log, created, last_updated`

func scanInstance(row pgx.Row) (*domain.ProjectInstance, error) {
	var inst domain.ProjectInstance
	if err := row.Scan(&inst.ID, &inst.ProjectID, &inst.WorkerNodeID, &inst.State, &inst.DeploymentLog, &inst.Created, &inst.LastUpdated); err != nil {
		return nil, mapError(err)
	}
	return &inst, nil
}

// CreateInstance inserts a project instance.
func (r *Repository) CreateInstance(ctx context.Context, instance *domain.ProjectInstance) error {
	if instance == nil {
		return fmt.Errorf("instance required")
	}
	const query = `INSERT INTO project_instances (id, project_id, worker_node_id, state, deployment_log, created, last_updated)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()), NOW())
		RETURNING created, last_updated`
	err := r.pool.QueryRow(ctx, query,
		instance.ID,
		instance.ProjectID,
		instance.WorkerNodeID,
		instance.State,
		instance.DeploymentLog,
		timePtrToNil(&instance.Created),
	).Scan(&instance.Created, &instance.LastUpdated)
	return mapError(err)
}

// GetInstanceByID fetches a project instance.
func (r *Repository) GetInstanceByID(ctx context.Context, instanceID string) (*domain.ProjectInstance, error) {
	const query = `SELECT ` + instanceColumns + ` FROM project_instances WHERE id = $1`
	return scanInstance(r.pool.QueryRow(ctx, query, instanceID))
}

// ListInstancesByProject fetches recent instances for a project.
func (r *Repository) ListInstancesByProject(ctx context.Context, projectID string, limit int) ([]domain.ProjectInstance, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT ` + instanceColumns + ` FROM project_instances
		WHERE project_id = $1 ORDER BY created DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []domain.ProjectInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

// UpdateInstanceState transitions an instance.
func (r *Repository) UpdateInstanceState(ctx context.Context, instanceID string, state domain.DeploymentState) error {
	const query = `UPDATE project_instances SET state = $2, last_updated = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, instanceID, state)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateInstanceStateIf transitions an instance only from the given state.
func (r *Repository) UpdateInstanceStateIf(ctx context.Context, instanceID string, from, to domain.DeploymentState) (bool, error) {
	const query = `UPDATE project_instances SET state = $3, last_updated = NOW() WHERE id = $1 AND state = $2`
	tag, err := r.pool.Exec(ctx, query, instanceID, from, to)
	if err != nil {
		return false, mapError(err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM project_instances WHERE id = $1)`, instanceID).Scan(&exists); err != nil {
		return false, mapError(err)
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}

// AppendInstanceLog concatenates text onto the deployment log in a single statement.
func (r *Repository) AppendInstanceLog(ctx context.Context, instanceID, text string) error {
	const query = `UPDATE project_instances
		SET deployment_log = deployment_log || $2,
			last_updated = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, instanceID, text)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateServiceInstances inserts service snapshots in one batch.
func (r *Repository) CreateServiceInstances(ctx context.Context, services []domain.ServiceInstance) error {
	if len(services) == 0 {
		return nil
	}
	const query = `INSERT INTO service_instances (id, project_instance_id, service_name, container_name,
			expected_state, actual_state, collected_logs, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`
	batch := &pgx.Batch{}
	for _, svc := range services {
		batch.Queue(query, svc.ID, svc.ProjectInstanceID, svc.ServiceName, svc.ContainerName,
			svc.ExpectedState, svc.ActualState, svc.CollectedLogs)
	}
	return mapError(r.pool.SendBatch(ctx, batch).Close())
}

// ListServiceInstances returns service snapshots for an instance.
func (r *Repository) ListServiceInstances(ctx context.Context, instanceID string) ([]domain.ServiceInstance, error) {
	const query = `SELECT id, project_instance_id, service_name, container_name, expected_state, actual_state,
			collected_logs, last_updated
		FROM service_instances WHERE project_instance_id = $1 ORDER BY service_name`
	rows, err := r.pool.Query(ctx, query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []domain.ServiceInstance
	for rows.Next() {
		var svc domain.ServiceInstance
		if err := rows.Scan(&svc.ID, &svc.ProjectInstanceID, &svc.ServiceName, &svc.ContainerName,
			&svc.ExpectedState, &svc.ActualState, &svc.CollectedLogs, &svc.LastUpdated); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// UpdateServiceInstance applies a worker-reported container state.
func (r *Repository) UpdateServiceInstance(ctx context.Context, update domain.ServiceInstanceUpdate) error {
	const query = `UPDATE service_instances
		SET actual_state = $2,
			collected_logs = COALESCE($3, collected_logs),
			last_updated = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, update.InstanceID, update.ActualState, emptyToNil(update.Logs))
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
