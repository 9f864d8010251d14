package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
)

func (r *Repository) seal(value string) (string, error) {
	if r.sealer == nil {
		return value, nil
	}
	return r.sealer.Seal(value)
}

func (r *Repository) open(value string) (string, error) {
	if r.sealer == nil {
		return value, nil
	}
	return r.sealer.Open(value)
}

// ListSecrets returns a project's secrets ordered by name with values unsealed.
func (r *Repository) ListSecrets(ctx context.Context, projectID string) ([]domain.Secret, error) {
	const query = `SELECT project_id, secret_name, secret_value, secret_placeholder, variable
		FROM secrets WHERE project_id = $1 ORDER BY secret_name`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	secrets := make([]domain.Secret, 0)
	for rows.Next() {
		var s domain.Secret
		if err := rows.Scan(&s.ProjectID, &s.SecretName, &s.SecretValue, &s.SecretPlaceholder, &s.Variable); err != nil {
			return nil, err
		}
		if s.SecretValue, err = r.open(s.SecretValue); err != nil {
			return nil, fmt.Errorf("unseal secret %s: %w", s.SecretName, err)
		}
		secrets = append(secrets, s)
	}
	return secrets, rows.Err()
}

// ReplaceSecrets deletes the project's secrets and inserts the given set in one transaction.
func (r *Repository) ReplaceSecrets(ctx context.Context, projectID string, secrets []domain.Secret) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM secrets WHERE project_id = $1`, projectID); err != nil {
		return mapError(err)
	}
	const insert = `INSERT INTO secrets (project_id, secret_name, secret_value, secret_placeholder, variable)
		VALUES ($1, $2, $3, $4, $5)`
	batch := &pgx.Batch{}
	for _, s := range secrets {
		sealed, err := r.seal(s.SecretValue)
		if err != nil {
			return fmt.Errorf("seal secret %s: %w", s.SecretName, err)
		}
		batch.Queue(insert, projectID, s.SecretName, sealed, s.SecretPlaceholder, s.Variable)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return mapError(err)
		}
	}
	return mapError(tx.Commit(ctx))
}

// UpsertSecret inserts or overwrites one secret.
func (r *Repository) UpsertSecret(ctx context.Context, secret domain.Secret) error {
	sealed, err := r.seal(secret.SecretValue)
	if err != nil {
		return fmt.Errorf("seal secret %s: %w", secret.SecretName, err)
	}
	const query = `INSERT INTO secrets (project_id, secret_name, secret_value, secret_placeholder, variable)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, secret_name) DO UPDATE
		SET secret_value = EXCLUDED.secret_value,
			secret_placeholder = EXCLUDED.secret_placeholder,
			variable = EXCLUDED.variable`
	_, err = r.pool.Exec(ctx, query, secret.ProjectID, secret.SecretName, sealed, secret.SecretPlaceholder, secret.Variable)
	return mapError(err)
}
