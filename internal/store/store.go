// Package store owns the canonical Postgres schema: snapshots, artifacts,
// entities, metrics, facts, provenance, and job_runs. Every write to the
// canonical state goes through this package; raw artifact bytes live in the
// blob store and are only referenced from here.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/estado-transparente/pipeline/internal/config"
)

// Job run statuses persisted in job_runs.status.
const (
	JobRunning = "running"
	JobOK      = "ok"
	JobFailed  = "failed"
)

// Artifact parse statuses persisted in artifacts.parsed_status.
const (
	ParsePending = "pending"
	ParseOK      = "ok"
	ParseFailed  = "failed"
)

// Components recorded in job_runs.component.
const (
	ComponentCollector = "collector"
	ComponentParser    = "parser"
)

// DB is the slice of pgxpool.Pool the store uses. pgxmock.PgxPoolIface
// satisfies it too, which is how the store is tested without a database.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store reads and writes the canonical tables.
type Store struct {
	db DB
}

// New wraps an existing connection pool (or mock) in a Store.
func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a pgx connection pool against cfg.URL and verifies it with a
// ping. The caller owns the returned pool and must Close it.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, eris.New("store: db.url is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "store: parse db url")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	poolCfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "store: connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "store: ping postgres")
	}
	return pool, nil
}

// nullIfEmpty maps "" to SQL NULL for optional text columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
