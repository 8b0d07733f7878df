package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	entitySearchDefaultLimit = 20
	entitySearchMaxLimit     = 100
)

// escapeLike neutralizes LIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// SearchEntities returns entities whose display name or natural key contains
// query (case-insensitive). An empty query matches everything. The limit is
// clamped to [1, 100] with a default of 20.
func (s *Store) SearchEntities(ctx context.Context, query string, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = entitySearchDefaultLimit
	}
	if limit > entitySearchMaxLimit {
		limit = entitySearchMaxLimit
	}
	pattern := "%" + escapeLike(query) + "%"

	rows, err := s.db.Query(ctx, `
		SELECT id, natural_key, display_name, entity_type
		FROM entities
		WHERE display_name ILIKE $1 OR natural_key ILIKE $1
		ORDER BY display_name, natural_key
		LIMIT $2`,
		pattern, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: search entities")
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.NaturalKey, &e.DisplayName, &e.EntityType); err != nil {
			return nil, eris.Wrap(err, "store: scan entity")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: search entities rows")
	}
	return out, nil
}
