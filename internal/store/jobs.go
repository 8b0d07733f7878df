package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/estado-transparente/pipeline/internal/faults"
)

func marshalDetail(detail map[string]any) ([]byte, error) {
	if len(detail) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal job detail")
	}
	return b, nil
}

// StartJob opens a job_runs row with status running. sourceID may be empty
// when it is not yet known (the parser learns it from the artifact row).
func (s *Store) StartJob(ctx context.Context, id uuid.UUID, component, sourceID string, startedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO job_runs (id, component, source_id, started_at, status, detail)
		VALUES ($1, $2, $3, $4, $5, '{}'::jsonb)`,
		id, component, nullIfEmpty(sourceID), startedAt, JobRunning,
	)
	if err != nil {
		return eris.Wrap(err, "store: start job")
	}
	return nil
}

// SetJobSource fills in source_id on a running job once it is known.
func (s *Store) SetJobSource(ctx context.Context, id uuid.UUID, sourceID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE job_runs SET source_id = $2 WHERE id = $1`,
		id, sourceID,
	)
	if err != nil {
		return eris.Wrap(err, "store: set job source")
	}
	return nil
}

// AppendJobDetail merges detail into the job's detail map. Existing keys not
// present in detail are preserved.
func (s *Store) AppendJobDetail(ctx context.Context, id uuid.UUID, detail map[string]any) error {
	b, err := marshalDetail(detail)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`UPDATE job_runs SET detail = detail || $2 WHERE id = $1`,
		id, b,
	)
	if err != nil {
		return eris.Wrap(err, "store: append job detail")
	}
	return nil
}

// FinishJob closes a job with a final status, merging detail and recording
// the error text (stored as NULL when empty).
func (s *Store) FinishJob(ctx context.Context, id uuid.UUID, status, errText string, detail map[string]any, finishedAt time.Time) error {
	b, err := marshalDetail(detail)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE job_runs
		SET status = $2, finished_at = $3, error = $4, detail = detail || $5
		WHERE id = $1`,
		id, status, finishedAt, nullIfEmpty(errText), b,
	)
	if err != nil {
		return eris.Wrap(err, "store: finish job")
	}
	if tag.RowsAffected() == 0 {
		return faults.Newf(faults.KindNotFound, "job %s not found", id)
	}
	return nil
}

// LastFactsHash returns the facts_hash recorded by the most recent successful
// parse of artifactID, or "" when no such parse exists.
func (s *Store) LastFactsHash(ctx context.Context, artifactID uuid.UUID) (string, error) {
	row := s.db.QueryRow(ctx, `
		SELECT detail->>'facts_hash'
		FROM job_runs
		WHERE component = $1 AND status = $2 AND detail->>'artifact_id' = $3
		ORDER BY started_at DESC
		LIMIT 1`,
		ComponentParser, JobOK, artifactID.String(),
	)
	var hash *string
	err := row.Scan(&hash)
	if eris.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "store: last facts hash")
	}
	if hash == nil {
		return "", nil
	}
	return *hash, nil
}

// JobByID loads one job run, mainly for tests and operator inspection.
func (s *Store) JobByID(ctx context.Context, id uuid.UUID) (*JobRun, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, component, COALESCE(source_id, ''), started_at, finished_at,
		       status, detail, COALESCE(error, '')
		FROM job_runs WHERE id = $1`,
		id,
	)
	var j JobRun
	err := row.Scan(&j.ID, &j.Component, &j.SourceID, &j.StartedAt, &j.FinishedAt,
		&j.Status, &j.Detail, &j.Error)
	if err != nil {
		return nil, eris.Wrap(err, "store: job by id")
	}
	return &j, nil
}
