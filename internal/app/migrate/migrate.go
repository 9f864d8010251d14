package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mosaiq-software/server-manager-sub000/db"
)

// Version is one migration and whether the config store has applied it.
type Version struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

// Runner applies the config store schema with goose.
type Runner struct {
	pool   *pgxpool.Pool
	dsn    string
	fsys   fs.FS
	source string
	log    *slog.Logger
}

// New returns a runner. An empty dir uses the migrations compiled into the binary.
func New(pool *pgxpool.Pool, dsn, dir string, log *slog.Logger) (Runner, error) {
	if pool == nil {
		return Runner{}, errors.New("nil pool provided")
	}
	if dsn == "" {
		return Runner{}, errors.New("empty database dsn")
	}
	fsys, source, err := Source(dir)
	if err != nil {
		return Runner{}, err
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{pool: pool, dsn: dsn, fsys: fsys, source: source, log: log.With("component", "migrate")}, nil
}

// Source resolves the migration files: the embedded set, or dir when it is not empty.
func Source(dir string) (fs.FS, string, error) {
	if dir == "" {
		sub, err := fs.Sub(db.Migrations, "migrations")
		if err != nil {
			return nil, "", fmt.Errorf("open embedded migrations: %w", err)
		}
		return sub, "embedded", nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, "", fmt.Errorf("locate migrations dir: %w", err)
	}
	if !info.IsDir() {
		return nil, "", fmt.Errorf("migrations path %s is not a directory", dir)
	}
	return os.DirFS(dir), dir, nil
}

// Ensure applies pending migrations.
func (r Runner) Ensure(ctx context.Context) error {
	return r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		r.log.Info("applying migrations", "source", r.source)
		results, err := p.Up(ctx)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		for _, res := range results {
			r.log.Info("migration applied", "version", res.Source.Version, "duration", res.Duration)
		}
		r.log.Info("migrations up to date", "applied", len(results))
		return nil
	})
}

// Status lists every known migration in version order.
func (r Runner) Status(ctx context.Context) ([]Version, error) {
	var out []Version
	err := r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		out = make([]Version, 0, len(statuses))
		for _, st := range statuses {
			out = append(out, Version{
				Version:   st.Source.Version,
				Path:      st.Source.Path,
				Applied:   st.State == goose.StateApplied,
				AppliedAt: st.AppliedAt,
			})
		}
		return nil
	})
	return out, err
}

// Down rolls back the latest migration, or every migration above targetVersion when it is positive.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	return r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		if targetVersion > 0 {
			r.log.Info("rolling back migrations", "target", targetVersion)
			results, err := p.DownTo(ctx, targetVersion)
			if err != nil {
				return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
			}
			r.log.Info("rollback complete", "reverted", len(results))
			return nil
		}
		r.log.Info("rolling back latest migration")
		res, err := p.Down(ctx)
		if err != nil {
			return fmt.Errorf("rollback latest migration: %w", err)
		}
		r.log.Info("rollback complete", "version", res.Source.Version)
		return nil
	})
}

// Ping ensures the database connection is alive.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (r Runner) withProvider(ctx context.Context, fn func(context.Context, *goose.Provider) error) error {
	sqlDB, err := sql.Open("pgx", r.dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, r.fsys)
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("configure goose: %w", err)
	}
	defer provider.Close()

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sql connection: %w", err)
	}
	return fn(ctx, provider)
}
