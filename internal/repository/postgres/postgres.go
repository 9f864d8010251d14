package postgres

import (
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mosaiq-software/server-manager-sub000/internal/repository"
	"github.com/mosaiq-software/server-manager-sub000/pkg/crypto"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	sealer *crypto.Sealer
}

// New constructs a Repository. Secret values are sealed with sealer when it is non-nil.
func New(pool *pgxpool.Pool, sealer *crypto.Sealer) *Repository {
	return &Repository{pool: pool, sealer: sealer}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository  = (*Repository)(nil)
	_ repository.SecretRepository   = (*Repository)(nil)
	_ repository.WorkerRepository   = (*Repository)(nil)
	_ repository.InstanceRepository = (*Repository)(nil)
)

// mapError translates driver errors into repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23505", "23514", "22P02":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

func emptyToNil(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func intPtrToNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func timePtrToNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func bytesToNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
