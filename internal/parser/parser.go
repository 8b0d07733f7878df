// Package parser turns registered artifacts into canonical facts with
// provenance. A parse is deterministic: for fixed artifact bytes the
// produced facts, their order, and their canonical hash are bit-identical
// across runs. Shape deviations abort the run; nothing is inferred.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/estado-transparente/pipeline/internal/blob"
	"github.com/estado-transparente/pipeline/internal/clock"
	"github.com/estado-transparente/pipeline/internal/faults"
	"github.com/estado-transparente/pipeline/internal/registry"
	"github.com/estado-transparente/pipeline/internal/store"
	"github.com/estado-transparente/pipeline/internal/telemetry"
)

// Store is the canonical-store capability the parser holds.
type Store interface {
	StartJob(ctx context.Context, id uuid.UUID, component, sourceID string, startedAt time.Time) error
	SetJobSource(ctx context.Context, id uuid.UUID, sourceID string) error
	AppendJobDetail(ctx context.Context, id uuid.UUID, detail map[string]any) error
	FinishJob(ctx context.Context, id uuid.UUID, status, errText string, detail map[string]any, finishedAt time.Time) error
	ArtifactByID(ctx context.Context, id uuid.UUID) (*store.Artifact, error)
	SetArtifactParsed(ctx context.Context, id uuid.UUID, status, parseError string) error
	MetricByKey(ctx context.Context, key string) (*store.Metric, error)
	PersistBatch(ctx context.Context, b store.Batch) error
	LastFactsHash(ctx context.Context, artifactID uuid.UUID) (string, error)
}

// Hasher verifies artifact bytes against their recorded digest.
type Hasher interface {
	Hash(data []byte) (string, error)
	Verify(data []byte, want string) error
}

// IDGenerator mints canonical-store row ids.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}

// Options modify a parse run. DryRun and Verify are mutually exclusive.
type Options struct {
	// DryRun runs every step through hashing, records the would-be fact
	// count and hash on the job run, and writes no snapshot.
	DryRun bool
	// Verify recomputes the facts hash and compares it against the hash
	// recorded by the last successful parse of the artifact. Writes
	// nothing; a mismatch is an integrity failure.
	Verify bool
}

// Result reports one parse run.
type Result struct {
	JobID      uuid.UUID
	SnapshotID uuid.UUID
	SourceID   string
	Facts      int
	FactsHash  string
	DryRun     bool
	Verified   bool
}

// Parser executes parse runs against the canonical store.
type Parser struct {
	store      Store
	blobs      blob.Store
	registry   *registry.Registry
	strategies map[string]Strategy
	hasher     Hasher
	ids        IDGenerator
	clock      clock.Clock
	namePolicy string
	log        *zap.Logger
}

// New builds a parser with the built-in strategy set.
func New(st Store, blobs blob.Store, reg *registry.Registry, hasher Hasher, ids IDGenerator, clk clock.Clock, namePolicy string, log *zap.Logger) *Parser {
	strategies := make(map[string]Strategy)
	for _, s := range []Strategy{DipresLeyCSV{}} {
		strategies[s.Name()] = s
	}
	return &Parser{
		store:      st,
		blobs:      blobs,
		registry:   reg,
		strategies: strategies,
		hasher:     hasher,
		ids:        ids,
		clock:      clk,
		namePolicy: namePolicy,
		log:        log.Named("parser"),
	}
}

// Parse runs the pipeline for one artifact: load, verify integrity,
// validate shape, aggregate, and persist a snapshot with facts and
// provenance. Every run leaves a job_runs row regardless of outcome.
func (p *Parser) Parse(ctx context.Context, artifactID uuid.UUID, opts Options) (*Result, error) {
	if opts.DryRun && opts.Verify {
		return nil, faults.New(faults.KindBadRequest, "parser: dry_run and verify are mutually exclusive")
	}
	started := p.clock.Now()

	jobID, err := p.ids.NewID()
	if err != nil {
		return nil, faults.Wrap(faults.KindInternal, err, "parser: generate job id")
	}
	log := p.log.With(zap.Stringer("job_id", jobID), zap.Stringer("artifact_id", artifactID))

	// The job row opens before the artifact loads so a missing artifact
	// still leaves an audit trail. The source id is attached once known.
	if err := p.store.StartJob(ctx, jobID, store.ComponentParser, "", started); err != nil {
		return nil, faults.Wrap(faults.KindPersist, err, "parser: open job run")
	}

	res, art, err := p.run(ctx, log, jobID, artifactID, opts)
	if err != nil {
		p.failJob(ctx, log, jobID, art, opts, err)
		telemetry.ObserveParse(artifactSource(art), "failed", 0, p.clock.Now().Sub(started))
		log.Warn("parse failed", zap.String("kind", string(faults.KindOf(err))), zap.Error(err))
		return nil, err
	}
	telemetry.ObserveParse(res.SourceID, "ok", res.Facts, p.clock.Now().Sub(started))
	return res, nil
}

func (p *Parser) run(ctx context.Context, log *zap.Logger, jobID, artifactID uuid.UUID, opts Options) (*Result, *store.Artifact, error) {
	art, err := p.store.ArtifactByID(ctx, artifactID)
	if err != nil {
		return nil, nil, err
	}
	if err := p.store.SetJobSource(ctx, jobID, art.SourceID); err != nil {
		return nil, art, faults.Wrap(faults.KindPersist, err, "parser: record job source")
	}
	log = log.With(zap.String("source_id", art.SourceID))

	if art.ParsedStatus == store.ParseOK && !opts.Verify {
		return nil, art, faults.Newf(faults.KindDuplicateParse, "parser: artifact %s is already parsed; re-parse refused", artifactID)
	}

	src, err := p.registry.Lookup(art.SourceID)
	if err != nil {
		return nil, art, err
	}
	strat, ok := p.strategies[src.Strategy]
	if !ok {
		return nil, art, faults.Newf(faults.KindInternal, "parser: no strategy %q for source %s", src.Strategy, src.ID)
	}
	if art.MIMEType != src.MIMEType {
		log.Warn("artifact mime type differs from registered source",
			zap.String("artifact_mime", art.MIMEType), zap.String("source_mime", src.MIMEType))
	}

	data, err := p.blobs.Get(ctx, art.StorageKind, art.StoragePath)
	if err != nil {
		return nil, art, faults.Wrap(faults.KindStorage, err, "parser: load artifact bytes")
	}
	if err := p.hasher.Verify(data, art.ContentHash); err != nil {
		return nil, art, faults.Wrap(faults.KindIntegrity, err, "parser: artifact bytes do not match recorded hash")
	}
	if !utf8.Valid(data) {
		return nil, art, faults.Newf(faults.KindRowValidation, "parser: artifact bytes are not valid %s", src.Encoding)
	}

	rdr := NewReader(data, src.Delimiter)
	header, err := rdr.Read()
	if errors.Is(err, io.EOF) {
		return nil, art, faults.New(faults.KindSchemaAmbiguity, "parser: artifact has no header row")
	} else if err != nil {
		return nil, art, faults.Wrap(faults.KindRowValidation, err, "parser: read header row")
	}
	if err := strat.Validate(src, header); err != nil {
		if faults.IsKind(err, faults.KindSchemaAmbiguity) {
			p.appendDetail(ctx, log, jobID, map[string]any{"header_diff": faults.Message(err)})
		}
		return nil, art, err
	}

	batch, err := strat.Normalize(src, rdr)
	if err != nil {
		return nil, art, err
	}
	batch.Sort()
	hash, err := batch.Hash()
	if err != nil {
		return nil, art, faults.Wrap(faults.KindInternal, err, "parser: hash canonical facts")
	}
	detail := map[string]any{
		"facts":       len(batch.Facts),
		"facts_hash":  hash,
		"artifact_id": artifactID.String(),
	}

	if opts.Verify {
		return p.finishVerify(ctx, log, jobID, art, src, batch, hash, detail)
	}
	if opts.DryRun {
		detail["dry_run"] = true
		if err := p.store.FinishJob(ctx, jobID, store.JobOK, "", detail, p.clock.Now()); err != nil {
			return nil, art, faults.Wrap(faults.KindPersist, err, "parser: close job run")
		}
		log.Info("dry run complete", zap.Int("facts", len(batch.Facts)), zap.String("facts_hash", hash))
		return &Result{JobID: jobID, SourceID: src.ID, Facts: len(batch.Facts), FactsHash: hash, DryRun: true}, art, nil
	}

	metric, err := p.store.MetricByKey(ctx, batch.MetricKey)
	if err != nil {
		return nil, art, err
	}
	if metric.Unit != src.Unit {
		return nil, art, faults.Newf(faults.KindUnknownMetric, "parser: metric %s has unit %q but source %s declares %q", metric.MetricKey, metric.Unit, src.ID, src.Unit)
	}

	sb, err := p.buildBatch(art, src, metric, batch)
	if err != nil {
		return nil, art, err
	}
	if err := p.store.PersistBatch(ctx, *sb); err != nil {
		return nil, art, faults.Wrap(faults.KindPersist, err, "parser: persist snapshot")
	}
	if err := p.store.SetArtifactParsed(ctx, art.ID, store.ParseOK, ""); err != nil {
		return nil, art, faults.Wrap(faults.KindPersist, err, "parser: mark artifact parsed")
	}
	if err := p.store.FinishJob(ctx, jobID, store.JobOK, "", detail, p.clock.Now()); err != nil {
		return nil, art, faults.Wrap(faults.KindPersist, err, "parser: close job run")
	}
	log.Info("parse complete",
		zap.Stringer("snapshot_id", sb.SnapshotID),
		zap.Int("facts", len(batch.Facts)),
		zap.String("facts_hash", hash))
	return &Result{
		JobID:      jobID,
		SnapshotID: sb.SnapshotID,
		SourceID:   src.ID,
		Facts:      len(batch.Facts),
		FactsHash:  hash,
	}, art, nil
}

// finishVerify compares the recomputed facts hash with the one the last
// successful parse recorded. Nothing is written beyond the job run.
func (p *Parser) finishVerify(ctx context.Context, log *zap.Logger, jobID uuid.UUID, art *store.Artifact, src registry.Source, batch *FactBatch, hash string, detail map[string]any) (*Result, *store.Artifact, error) {
	prior, err := p.store.LastFactsHash(ctx, art.ID)
	if err != nil {
		return nil, art, faults.Wrap(faults.KindPersist, err, "parser: load recorded facts hash")
	}
	if prior == "" {
		return nil, art, faults.Newf(faults.KindNotFound, "parser: artifact %s has no successful parse to verify against", art.ID)
	}
	if prior != hash {
		return nil, art, faults.Newf(faults.KindIntegrity, "parser: facts hash diverged: recorded %s, recomputed %s", prior, hash)
	}
	detail["verified"] = true
	if err := p.store.FinishJob(ctx, jobID, store.JobOK, "", detail, p.clock.Now()); err != nil {
		return nil, art, faults.Wrap(faults.KindPersist, err, "parser: close job run")
	}
	log.Info("verify complete", zap.Int("facts", len(batch.Facts)), zap.String("facts_hash", hash))
	return &Result{JobID: jobID, SourceID: src.ID, Facts: len(batch.Facts), FactsHash: hash, Verified: true}, art, nil
}

// buildBatch pre-generates every row id and serializes dims so the store
// transaction only writes.
func (p *Parser) buildBatch(art *store.Artifact, src registry.Source, metric *store.Metric, batch *FactBatch) (*store.Batch, error) {
	snapshotID, err := p.ids.NewID()
	if err != nil {
		return nil, faults.Wrap(faults.KindInternal, err, "parser: generate snapshot id")
	}
	sb := &store.Batch{
		SnapshotID: snapshotID,
		CreatedAt:  p.clock.Now(),
		Note:       fmt.Sprintf("parse %s artifact %s", src.ID, art.ID),
		ArtifactID: art.ID,
		MetricID:   metric.ID,
		EntityType: src.EntityType,
		NamePolicy: p.namePolicy,
		Facts:      make([]store.FactInsert, 0, len(batch.Facts)),
	}
	for _, f := range batch.Facts {
		factID, err := p.ids.NewID()
		if err != nil {
			return nil, faults.Wrap(faults.KindInternal, err, "parser: generate fact id")
		}
		provID, err := p.ids.NewID()
		if err != nil {
			return nil, faults.Wrap(faults.KindInternal, err, "parser: generate provenance id")
		}
		entityID, err := p.ids.NewID()
		if err != nil {
			return nil, faults.Wrap(faults.KindInternal, err, "parser: generate entity id")
		}
		dims, err := f.MarshalDims()
		if err != nil {
			return nil, faults.Wrap(faults.KindInternal, err, "parser: serialize dims")
		}
		sb.Facts = append(sb.Facts, store.FactInsert{
			FactID:       factID,
			ProvenanceID: provID,
			EntityID:     entityID,
			EntityKey:    f.EntityKey,
			EntityName:   f.EntityName,
			PeriodStart:  f.PeriodStart,
			PeriodEnd:    f.PeriodEnd,
			Value:        f.Value,
			Unit:         f.Unit,
			Dims:         dims,
			Location:     f.Location,
		})
	}
	return sb, nil
}

// failJob closes the job run as failed and, for input-shape and integrity
// faults on a not-yet-parsed artifact, marks the artifact failed so the
// refusal is visible without reading job logs. Dry runs never touch the
// artifact.
func (p *Parser) failJob(ctx context.Context, log *zap.Logger, jobID uuid.UUID, art *store.Artifact, opts Options, cause error) {
	if art != nil && !opts.DryRun && art.ParsedStatus != store.ParseOK && marksArtifactFailed(faults.KindOf(cause)) {
		if err := p.store.SetArtifactParsed(ctx, art.ID, store.ParseFailed, faults.Message(cause)); err != nil {
			log.Warn("mark artifact failed", zap.Error(err))
		}
	}
	if err := p.store.FinishJob(ctx, jobID, store.JobFailed, cause.Error(), nil, p.clock.Now()); err != nil {
		log.Warn("close job run", zap.Error(err))
	}
}

func (p *Parser) appendDetail(ctx context.Context, log *zap.Logger, jobID uuid.UUID, detail map[string]any) {
	if err := p.store.AppendJobDetail(ctx, jobID, detail); err != nil {
		log.Warn("append job detail", zap.Error(err))
	}
}

func marksArtifactFailed(kind faults.Kind) bool {
	switch kind {
	case faults.KindIntegrity, faults.KindSchemaAmbiguity, faults.KindRowValidation, faults.KindUnknownMetric:
		return true
	}
	return false
}

func artifactSource(art *store.Artifact) string {
	if art == nil {
		return "unknown"
	}
	return art.SourceID
}
