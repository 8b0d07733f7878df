// Package collector captures source documents as immutable artifacts:
// fetch, hash, store the bytes, register the row. Ingestion is idempotent
// over content — the same bytes land on the same artifact no matter how
// often they are fetched.
package collector

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/estado-transparente/pipeline/internal/blob"
	"github.com/estado-transparente/pipeline/internal/clock"
	"github.com/estado-transparente/pipeline/internal/faults"
	"github.com/estado-transparente/pipeline/internal/fetch"
	"github.com/estado-transparente/pipeline/internal/hash/sha256"
	"github.com/estado-transparente/pipeline/internal/registry"
	"github.com/estado-transparente/pipeline/internal/store"
	"github.com/estado-transparente/pipeline/internal/telemetry"
)

// Store is the canonical-store capability the collector holds.
type Store interface {
	StartJob(ctx context.Context, id uuid.UUID, component, sourceID string, startedAt time.Time) error
	FinishJob(ctx context.Context, id uuid.UUID, status, errText string, detail map[string]any, finishedAt time.Time) error
	ArtifactByHash(ctx context.Context, contentHash string) (*store.Artifact, error)
	InsertArtifact(ctx context.Context, a store.Artifact) (*store.Artifact, bool, error)
}

// Fetcher retrieves one document.
type Fetcher interface {
	Fetch(ctx context.Context, request fetch.Request) (fetch.Response, error)
}

// Limiter spaces requests per source.
type Limiter interface {
	Wait(ctx context.Context, sourceID string) error
}

// Hasher digests fetched bytes.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator mints canonical-store row ids.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}

// Options modify an ingest run.
type Options struct {
	// DryRun fetches and hashes but writes neither blob nor artifact.
	DryRun bool
	// Force rewrites the blob bytes of an already-registered artifact.
	// Recovery path for blob loss; the artifact row itself is immutable.
	Force bool
}

// Result reports one ingest run.
type Result struct {
	JobID         uuid.UUID
	ArtifactID    uuid.UUID
	SourceID      string
	URL           string
	ContentHash   string
	SizeBytes     int64
	MIMEType      string
	Reused        bool
	DryRun        bool
	BlobRewritten bool
}

// Collector executes ingest runs.
type Collector struct {
	store    Store
	blobs    blob.Store
	fetcher  Fetcher
	robots   fetch.RobotsPolicy
	limiter  Limiter
	registry *registry.Registry
	hasher   Hasher
	ids      IDGenerator
	clock    clock.Clock
	log      *zap.Logger
}

// New builds a collector.
func New(st Store, blobs blob.Store, fetcher Fetcher, robots fetch.RobotsPolicy, limiter Limiter, reg *registry.Registry, hasher Hasher, ids IDGenerator, clk clock.Clock, log *zap.Logger) *Collector {
	return &Collector{
		store:    st,
		blobs:    blobs,
		fetcher:  fetcher,
		robots:   robots,
		limiter:  limiter,
		registry: reg,
		hasher:   hasher,
		ids:      ids,
		clock:    clk,
		log:      log.Named("collector"),
	}
}

// Ingest captures rawURL for the registered source. Every run leaves a
// job_runs row; a failure leaves no other visible state.
func (c *Collector) Ingest(ctx context.Context, sourceID, rawURL string, opts Options) (*Result, error) {
	started := c.clock.Now()

	jobID, err := c.ids.NewID()
	if err != nil {
		return nil, faults.Wrap(faults.KindInternal, err, "collector: generate job id")
	}
	log := c.log.With(zap.Stringer("job_id", jobID), zap.String("source_id", sourceID), zap.String("url", rawURL))

	if err := c.store.StartJob(ctx, jobID, store.ComponentCollector, sourceID, started); err != nil {
		return nil, faults.Wrap(faults.KindPersist, err, "collector: open job run")
	}

	res, fetched, err := c.run(ctx, log, jobID, sourceID, rawURL, opts)
	if err != nil {
		c.failJob(ctx, log, jobID, err)
		telemetry.ObserveIngest(sourceID, "failed", fetched, c.clock.Now().Sub(started))
		log.Warn("ingest failed", zap.String("kind", string(faults.KindOf(err))), zap.Error(err))
		return nil, err
	}
	telemetry.ObserveIngest(sourceID, "ok", fetched, c.clock.Now().Sub(started))
	return res, nil
}

func (c *Collector) run(ctx context.Context, log *zap.Logger, jobID uuid.UUID, sourceID, rawURL string, opts Options) (*Result, int, error) {
	if _, err := c.registry.Lookup(sourceID); err != nil {
		return nil, 0, err
	}
	if err := validateURL(rawURL); err != nil {
		return nil, 0, err
	}

	if err := c.limiter.Wait(ctx, sourceID); err != nil {
		return nil, 0, faults.Wrap(faults.KindFetch, err, "collector: wait for rate limit")
	}
	if !c.robots.Allowed(ctx, rawURL) {
		return nil, 0, faults.Newf(faults.KindFetch, "collector: url %s disallowed by robots.txt", rawURL)
	}

	resp, err := c.fetcher.Fetch(ctx, fetch.Request{SourceID: sourceID, URL: rawURL})
	if err != nil {
		return nil, 0, faults.Wrap(faults.KindFetch, err, "collector: fetch "+rawURL)
	}
	fetched := len(resp.Body)

	digest, err := c.hasher.Hash(resp.Body)
	if err != nil {
		return nil, fetched, faults.Wrap(faults.KindInternal, err, "collector: hash response body")
	}
	res := &Result{
		JobID:       jobID,
		SourceID:    sourceID,
		URL:         rawURL,
		ContentHash: digest,
		SizeBytes:   int64(fetched),
		MIMEType:    resp.MIMEType(),
	}

	existing, err := c.store.ArtifactByHash(ctx, digest)
	if err != nil {
		return nil, fetched, faults.Wrap(faults.KindPersist, err, "collector: look up artifact by hash")
	}
	if existing != nil {
		return c.reuse(ctx, log, jobID, res, existing, resp.Body, opts, fetched)
	}

	if opts.DryRun {
		res.DryRun = true
		detail := map[string]any{"dry_run": true, "content_hash": digest, "size_bytes": fetched, "reused": false}
		if err := c.store.FinishJob(ctx, jobID, store.JobOK, "", detail, c.clock.Now()); err != nil {
			return nil, fetched, faults.Wrap(faults.KindPersist, err, "collector: close job run")
		}
		log.Info("dry run complete", zap.String("content_hash", digest), zap.Int("size_bytes", fetched))
		return res, fetched, nil
	}

	artifactID, err := c.ids.NewID()
	if err != nil {
		return nil, fetched, faults.Wrap(faults.KindInternal, err, "collector: generate artifact id")
	}
	kind, path, err := c.blobs.Put(ctx, blob.KeyForDigest(sha256.HexPart(digest)), resp.Body, res.MIMEType)
	if err != nil {
		return nil, fetched, faults.Wrap(faults.KindStorage, err, "collector: write blob")
	}

	inserted, created, err := c.store.InsertArtifact(ctx, store.Artifact{
		ID:          artifactID,
		SourceID:    sourceID,
		URL:         rawURL,
		CapturedAt:  c.clock.Now(),
		ContentHash: digest,
		MIMEType:    res.MIMEType,
		SizeBytes:   int64(fetched),
		StorageKind: kind,
		StoragePath: path,
	})
	if err != nil {
		return nil, fetched, faults.Wrap(faults.KindPersist, err, "collector: register artifact")
	}
	res.ArtifactID = inserted.ID
	res.Reused = !created

	detail := map[string]any{
		"artifact_id":  inserted.ID.String(),
		"content_hash": digest,
		"size_bytes":   fetched,
		"reused":       res.Reused,
	}
	if err := c.store.FinishJob(ctx, jobID, store.JobOK, "", detail, c.clock.Now()); err != nil {
		return nil, fetched, faults.Wrap(faults.KindPersist, err, "collector: close job run")
	}
	log.Info("ingest complete",
		zap.Stringer("artifact_id", inserted.ID),
		zap.String("content_hash", digest),
		zap.Int("size_bytes", fetched),
		zap.Bool("reused", res.Reused))
	return res, fetched, nil
}

// reuse closes the run against an artifact that already holds these bytes.
// Force rewrites the blob at its recorded location first.
func (c *Collector) reuse(ctx context.Context, log *zap.Logger, jobID uuid.UUID, res *Result, existing *store.Artifact, body []byte, opts Options, fetched int) (*Result, int, error) {
	res.ArtifactID = existing.ID
	res.Reused = true
	detail := map[string]any{
		"artifact_id":  existing.ID.String(),
		"content_hash": res.ContentHash,
		"size_bytes":   fetched,
		"reused":       true,
	}

	if opts.DryRun {
		res.DryRun = true
		detail["dry_run"] = true
	} else if opts.Force {
		kind, path, err := c.blobs.Put(ctx, blob.KeyForDigest(sha256.HexPart(res.ContentHash)), body, existing.MIMEType)
		if err != nil {
			return nil, fetched, faults.Wrap(faults.KindStorage, err, "collector: rewrite blob")
		}
		if kind != existing.StorageKind || path != existing.StoragePath {
			return nil, fetched, faults.Newf(faults.KindStorage,
				"collector: blob rewrite landed at %s:%s but artifact %s records %s:%s",
				kind, path, existing.ID, existing.StorageKind, existing.StoragePath)
		}
		res.BlobRewritten = true
		detail["blob_rewritten"] = true
	}

	if err := c.store.FinishJob(ctx, jobID, store.JobOK, "", detail, c.clock.Now()); err != nil {
		return nil, fetched, faults.Wrap(faults.KindPersist, err, "collector: close job run")
	}
	log.Info("ingest reused artifact",
		zap.Stringer("artifact_id", existing.ID),
		zap.Bool("dry_run", res.DryRun),
		zap.Bool("blob_rewritten", res.BlobRewritten))
	return res, fetched, nil
}

func (c *Collector) failJob(ctx context.Context, log *zap.Logger, jobID uuid.UUID, cause error) {
	if err := c.store.FinishJob(ctx, jobID, store.JobFailed, cause.Error(), nil, c.clock.Now()); err != nil {
		log.Warn("close job run", zap.Error(err))
	}
}

// validateURL admits absolute http, https, and file URLs only.
func validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return faults.Wrap(faults.KindBadRequest, err, "collector: parse url")
	}
	switch parsed.Scheme {
	case "http", "https":
		if parsed.Host == "" {
			return faults.Newf(faults.KindBadRequest, "collector: url %q has no host", rawURL)
		}
	case "file":
		if parsed.Path == "" {
			return faults.Newf(faults.KindBadRequest, "collector: file url %q has no path", rawURL)
		}
	case "":
		return faults.Newf(faults.KindBadRequest, "collector: url %q is not absolute", rawURL)
	default:
		return faults.Newf(faults.KindBadRequest, "collector: unsupported scheme %q", parsed.Scheme)
	}
	return nil
}
