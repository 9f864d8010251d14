package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
	"github.com/mosaiq-software/server-manager-sub000/internal/repository"
)

const workerColumns = `worker_id, address, port, auth_token, status, is_control_plane_worker, last_heartbeat`

func scanWorker(row pgx.Row) (*domain.WorkerNode, error) {
	var w domain.WorkerNode
	if err := row.Scan(&w.WorkerID, &w.Address, &w.Port, &w.AuthToken, &w.Status, &w.IsControlPlaneWorker, &w.LastHeartbeat); err != nil {
		return nil, mapError(err)
	}
	return &w, nil
}

// CreateWorker inserts a worker node.
func (r *Repository) CreateWorker(ctx context.Context, worker *domain.WorkerNode) error {
	if worker == nil {
		return fmt.Errorf("worker required")
	}
	if worker.Status == "" {
		worker.Status = domain.WorkerUnknown
	}
	const query = `INSERT INTO worker_nodes (` + workerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query,
		worker.WorkerID,
		worker.Address,
		worker.Port,
		worker.AuthToken,
		worker.Status,
		worker.IsControlPlaneWorker,
		timePtrToNil(worker.LastHeartbeat),
	)
	return mapError(err)
}

// GetWorkerByID fetches a worker node.
func (r *Repository) GetWorkerByID(ctx context.Context, workerID string) (*domain.WorkerNode, error) {
	const query = `SELECT ` + workerColumns + ` FROM worker_nodes WHERE worker_id = $1`
	return scanWorker(r.pool.QueryRow(ctx, query, workerID))
}

// ListWorkers returns all worker nodes.
func (r *Repository) ListWorkers(ctx context.Context) ([]domain.WorkerNode, error) {
	const query = `SELECT ` + workerColumns + ` FROM worker_nodes ORDER BY worker_id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	workers := make([]domain.WorkerNode, 0)
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, *w)
	}
	return workers, rows.Err()
}

// UpdateWorkerStatus records a health observation; a nil heartbeat keeps the previous one.
func (r *Repository) UpdateWorkerStatus(ctx context.Context, workerID string, status domain.WorkerStatus, heartbeat *time.Time) error {
	const query = `UPDATE worker_nodes
		SET status = $2,
			last_heartbeat = COALESCE($3, last_heartbeat)
		WHERE worker_id = $1`
	tag, err := r.pool.Exec(ctx, query, workerID, status, timePtrToNil(heartbeat))
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
