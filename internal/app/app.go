// Package app initializes and holds the long-lived services shared by the
// pipeline commands, acting as a dependency injection container. It is
// built once at startup, handed to the command that needs it, and closed
// by the command's shutdown hook.
package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/estado-transparente/pipeline/internal/blob"
	"github.com/estado-transparente/pipeline/internal/clock"
	"github.com/estado-transparente/pipeline/internal/collector"
	"github.com/estado-transparente/pipeline/internal/config"
	"github.com/estado-transparente/pipeline/internal/fetch"
	"github.com/estado-transparente/pipeline/internal/hash/sha256"
	"github.com/estado-transparente/pipeline/internal/id/uuid"
	"github.com/estado-transparente/pipeline/internal/parser"
	"github.com/estado-transparente/pipeline/internal/registry"
	"github.com/estado-transparente/pipeline/internal/store"
)

// App holds the shared services: configuration, logger, database pool,
// canonical store, blob store, and the source registry.
type App struct {
	Config   config.Config
	Log      *zap.Logger
	Pool     *pgxpool.Pool
	Store    *store.Store
	Blobs    blob.Store
	Registry *registry.Registry
}

// New connects every backing service from cfg, failing fast when one is
// unreachable. The caller owns the returned App and must Close it.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	pool, err := store.Connect(ctx, cfg.DB)
	if err != nil {
		return nil, eris.Wrap(err, "app: connect canonical store")
	}
	blobs, err := blob.Open(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "app: open blob store")
	}
	log.Info("services ready",
		zap.String("raw_store", cfg.Raw.Store),
		zap.String("headline_metric", cfg.HeadlineMetric),
	)
	return &App{
		Config:   cfg,
		Log:      log,
		Pool:     pool,
		Store:    store.New(pool),
		Blobs:    blobs,
		Registry: registry.New(),
	}, nil
}

// Collector assembles the ingest pipeline over the shared services.
func (a *App) Collector() *collector.Collector {
	return collector.New(
		a.Store,
		a.Blobs,
		fetch.New(fetch.Config{UserAgent: a.Config.UserAgent, Timeout: a.Config.FetchTimeout()}),
		fetch.NewRobotsPolicy(a.Config.RespectRobots, a.Config.UserAgent, a.Log),
		fetch.NewLimiter(a.Config.RateLimit()),
		a.Registry,
		sha256.New(),
		uuid.NewGenerator(),
		clock.NewSystem(),
		a.Log,
	)
}

// Parser assembles the parse pipeline over the shared services.
func (a *App) Parser() *parser.Parser {
	return parser.New(
		a.Store,
		a.Blobs,
		a.Registry,
		sha256.New(),
		uuid.NewGenerator(),
		clock.NewSystem(),
		a.Config.EntityNamePolicy,
		a.Log,
	)
}

// Close releases the database pool and flushes the logger.
func (a *App) Close() {
	a.Log.Info("shutting down")
	if a.Pool != nil {
		a.Pool.Close()
	}
	_ = a.Log.Sync()
}
