package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/estado-transparente/pipeline/internal/config"
)

// FactInsert is one fact plus its provenance row, ready for insertion. The
// caller pre-generates all ids; EntityID is a candidate used only when the
// natural key is new.
type FactInsert struct {
	FactID       uuid.UUID
	ProvenanceID uuid.UUID
	EntityID     uuid.UUID
	EntityKey    string
	EntityName   string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Value        float64
	Unit         string
	Dims         []byte
	Location     string
}

// Batch is one parser run's output: a snapshot, its facts in insertion
// order, and one provenance row per fact pointing at ArtifactID.
type Batch struct {
	SnapshotID uuid.UUID
	CreatedAt  time.Time
	Note       string
	ArtifactID uuid.UUID
	MetricID   uuid.UUID
	EntityType string
	NamePolicy string
	Facts      []FactInsert
}

// PersistBatch writes the snapshot, entities, facts, and provenance rows in
// a single transaction. Facts are inserted in the order given; the caller is
// responsible for the canonical (metric_key, entity_key) ordering.
func (s *Store) PersistBatch(ctx context.Context, b Batch) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "store: begin persist")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO snapshots (id, created_at, note) VALUES ($1, $2, $3)`,
		b.SnapshotID, b.CreatedAt, nullIfEmpty(b.Note),
	)
	if err != nil {
		return eris.Wrap(err, "store: insert snapshot")
	}

	for _, f := range b.Facts {
		entityID, err := upsertEntityTx(ctx, tx, f, b.EntityType, b.NamePolicy)
		if err != nil {
			return err
		}

		dims := f.Dims
		if len(dims) == 0 {
			dims = []byte("{}")
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO facts (id, snapshot_id, entity_id, metric_id,
				period_start, period_end, value_num, unit, dims)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			f.FactID, b.SnapshotID, entityID, b.MetricID,
			f.PeriodStart, f.PeriodEnd, f.Value, f.Unit, dims,
		)
		if err != nil {
			return eris.Wrapf(err, "store: insert fact for %s", f.EntityKey)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO provenance (id, fact_id, artifact_id, location, method, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			f.ProvenanceID, f.FactID, b.ArtifactID, f.Location, "parse", b.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "store: insert provenance for %s", f.EntityKey)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "store: commit persist")
	}
	return nil
}

// upsertEntityTx resolves the entity id for a natural key, creating the row
// when the key is new. Under the first_seen policy an existing display name
// is kept; under latest it is overwritten with the batch's text.
func upsertEntityTx(ctx context.Context, tx pgx.Tx, f FactInsert, entityType, namePolicy string) (uuid.UUID, error) {
	var id uuid.UUID

	if namePolicy == config.NamePolicyLatest {
		err := tx.QueryRow(ctx, `
			INSERT INTO entities (id, natural_key, display_name, entity_type)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (natural_key) DO UPDATE SET display_name = EXCLUDED.display_name
			RETURNING id`,
			f.EntityID, f.EntityKey, f.EntityName, entityType,
		).Scan(&id)
		if err != nil {
			return uuid.Nil, eris.Wrapf(err, "store: upsert entity %s", f.EntityKey)
		}
		return id, nil
	}

	err := tx.QueryRow(ctx, `
		INSERT INTO entities (id, natural_key, display_name, entity_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (natural_key) DO NOTHING
		RETURNING id`,
		f.EntityID, f.EntityKey, f.EntityName, entityType,
	).Scan(&id)
	if eris.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(ctx,
			`SELECT id FROM entities WHERE natural_key = $1`, f.EntityKey,
		).Scan(&id)
	}
	if err != nil {
		return uuid.Nil, eris.Wrapf(err, "store: upsert entity %s", f.EntityKey)
	}
	return id, nil
}
