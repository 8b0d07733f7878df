package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/estado-transparente/pipeline/internal/faults"
)

const metricColumns = `id, metric_key, display_name, unit, COALESCE(description, '')`

func scanMetric(row pgx.Row) (*Metric, error) {
	var m Metric
	err := row.Scan(&m.ID, &m.MetricKey, &m.DisplayName, &m.Unit, &m.Description)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MetricByKey resolves a metric by its natural key. Metrics are a closed,
// migration-seeded set, so a missing key is an unknown_metric fault.
func (s *Store) MetricByKey(ctx context.Context, key string) (*Metric, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+metricColumns+` FROM metrics WHERE metric_key = $1`, key)
	m, err := scanMetric(row)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, faults.Newf(faults.KindUnknownMetric, "metric %q is not registered", key)
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: metric by key")
	}
	return m, nil
}

// MetricByID loads one metric. Missing rows are a not_found fault.
func (s *Store) MetricByID(ctx context.Context, id uuid.UUID) (*Metric, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+metricColumns+` FROM metrics WHERE id = $1`, id)
	m, err := scanMetric(row)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, faults.Newf(faults.KindNotFound, "metric %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: metric by id")
	}
	return m, nil
}

// ListMetrics returns all registered metrics ordered by metric_key.
func (s *Store) ListMetrics(ctx context.Context) ([]Metric, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+metricColumns+` FROM metrics ORDER BY metric_key`)
	if err != nil {
		return nil, eris.Wrap(err, "store: list metrics")
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.ID, &m.MetricKey, &m.DisplayName, &m.Unit, &m.Description); err != nil {
			return nil, eris.Wrap(err, "store: scan metric")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: list metrics rows")
	}
	return out, nil
}
