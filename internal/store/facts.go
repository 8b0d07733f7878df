package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/estado-transparente/pipeline/internal/faults"
)

// FactsQuery filters the facts listing. All fields are optional; a nil
// SnapshotID means the latest snapshot per (entity, metric, period) wins.
type FactsQuery struct {
	MetricID   *uuid.UUID
	EntityID   *uuid.UUID
	From       *time.Time
	To         *time.Time
	SnapshotID *uuid.UUID
}

// Facts returns facts matching q with entity and metric names joined in,
// ordered by (entity display name, period start).
func (s *Store) Facts(ctx context.Context, q FactsQuery) ([]FactRow, error) {
	var conds []string
	var args []any

	add := func(expr string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}
	if q.MetricID != nil {
		add("fx.metric_id = $%d", *q.MetricID)
	}
	if q.EntityID != nil {
		add("fx.entity_id = $%d", *q.EntityID)
	}
	if q.From != nil {
		add("fx.period_start >= $%d", *q.From)
	}
	if q.To != nil {
		add("fx.period_start <= $%d", *q.To)
	}

	var inner string
	if q.SnapshotID != nil {
		add("fx.snapshot_id = $%d", *q.SnapshotID)
		inner = `SELECT fx.* FROM facts fx WHERE ` + strings.Join(conds, " AND ")
	} else {
		where := ""
		if len(conds) > 0 {
			where = "WHERE " + strings.Join(conds, " AND ")
		}
		// Latest snapshot wins per (entity, metric, period).
		inner = `
			SELECT DISTINCT ON (fx.entity_id, fx.metric_id, fx.period_start) fx.*
			FROM facts fx
			JOIN snapshots sx ON sx.id = fx.snapshot_id
			` + where + `
			ORDER BY fx.entity_id, fx.metric_id, fx.period_start, sx.created_at DESC, fx.id`
	}

	sql := `
		SELECT f.id, f.snapshot_id, e.id, e.natural_key, e.display_name,
		       m.id, m.metric_key, m.display_name,
		       f.period_start, f.period_end, f.value_num, f.unit, f.dims
		FROM (` + inner + `) f
		JOIN entities e ON e.id = f.entity_id
		JOIN metrics m ON m.id = f.metric_id
		ORDER BY e.display_name, f.period_start`

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: query facts")
	}
	defer rows.Close()

	var out []FactRow
	for rows.Next() {
		var f FactRow
		err := rows.Scan(&f.ID, &f.SnapshotID, &f.EntityID, &f.EntityKey, &f.EntityName,
			&f.MetricID, &f.MetricKey, &f.MetricName,
			&f.PeriodStart, &f.PeriodEnd, &f.Value, &f.Unit, &f.Dims)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan fact")
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: query facts rows")
	}
	return out, nil
}

// YearFacts returns each entity's latest fact for metricID over the calendar
// year [Y-01-01, Y-12-31], ordered by entity display name. A non-nil entityID
// restricts the result to that entity.
func (s *Store) YearFacts(ctx context.Context, metricID uuid.UUID, year int, entityID *uuid.UUID) ([]YearFact, error) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)

	args := []any{metricID, start, end}
	entityCond := ""
	if entityID != nil {
		args = append(args, *entityID)
		entityCond = fmt.Sprintf(" AND fx.entity_id = $%d", len(args))
	}

	sql := `
		SELECT f.id, f.entity_id, e.natural_key, e.display_name, f.value_num
		FROM (
			SELECT DISTINCT ON (fx.entity_id) fx.id, fx.entity_id, fx.value_num
			FROM facts fx
			JOIN snapshots sx ON sx.id = fx.snapshot_id
			WHERE fx.metric_id = $1 AND fx.period_start = $2 AND fx.period_end = $3` + entityCond + `
			ORDER BY fx.entity_id, sx.created_at DESC, fx.id
		) f
		JOIN entities e ON e.id = f.entity_id
		ORDER BY e.display_name, f.entity_id`

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: query year facts")
	}
	defer rows.Close()

	var out []YearFact
	for rows.Next() {
		var f YearFact
		if err := rows.Scan(&f.FactID, &f.EntityID, &f.EntityKey, &f.EntityName, &f.Value); err != nil {
			return nil, eris.Wrap(err, "store: scan year fact")
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: query year facts rows")
	}
	return out, nil
}

// AvailableYears lists the calendar years that have at least one fact for
// metricID, ascending.
func (s *Store) AvailableYears(ctx context.Context, metricID uuid.UUID) ([]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT EXTRACT(YEAR FROM period_start)::int AS year
		FROM facts
		WHERE metric_id = $1
		ORDER BY year`,
		metricID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: query available years")
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, eris.Wrap(err, "store: scan year")
		}
		out = append(out, y)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: query available years rows")
	}
	return out, nil
}

// FactEvidence loads a fact together with its provenance and source artifact.
// Missing facts are a not_found fault.
func (s *Store) FactEvidence(ctx context.Context, factID uuid.UUID) (*Evidence, error) {
	row := s.db.QueryRow(ctx, `
		SELECT f.id, f.snapshot_id, e.id, e.natural_key, e.display_name,
		       m.id, m.metric_key, m.display_name,
		       f.period_start, f.period_end, f.value_num, f.unit, f.dims,
		       p.location, p.method,
		       a.id, a.source_id, a.url, a.captured_at, a.content_hash, a.mime_type,
		       a.size_bytes, a.storage_kind, a.storage_path, a.parsed_status,
		       COALESCE(a.parse_error, '')
		FROM facts f
		JOIN entities e ON e.id = f.entity_id
		JOIN metrics m ON m.id = f.metric_id
		JOIN provenance p ON p.fact_id = f.id
		JOIN artifacts a ON a.id = p.artifact_id
		WHERE f.id = $1
		ORDER BY p.created_at, p.id
		LIMIT 1`,
		factID,
	)

	var ev Evidence
	err := row.Scan(&ev.Fact.ID, &ev.Fact.SnapshotID, &ev.Fact.EntityID, &ev.Fact.EntityKey, &ev.Fact.EntityName,
		&ev.Fact.MetricID, &ev.Fact.MetricKey, &ev.Fact.MetricName,
		&ev.Fact.PeriodStart, &ev.Fact.PeriodEnd, &ev.Fact.Value, &ev.Fact.Unit, &ev.Fact.Dims,
		&ev.Location, &ev.Method,
		&ev.Artifact.ID, &ev.Artifact.SourceID, &ev.Artifact.URL, &ev.Artifact.CapturedAt,
		&ev.Artifact.ContentHash, &ev.Artifact.MIMEType, &ev.Artifact.SizeBytes,
		&ev.Artifact.StorageKind, &ev.Artifact.StoragePath, &ev.Artifact.ParsedStatus,
		&ev.Artifact.ParseError)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, faults.Newf(faults.KindNotFound, "fact %s not found", factID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: fact evidence")
	}
	return &ev, nil
}
