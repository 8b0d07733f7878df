package api

import (
	"math"
	"net/http"
	"sort"

	"github.com/google/uuid"

	"github.com/estado-transparente/pipeline/internal/store"
)

// compare handles GET /compare?metric_id=&year_a=&year_b=&entity_id=. For
// each entity with a fact in either year it reports both values and their
// delta. A missing side leaves its value and fact id null, and delta and
// pct_change null with it; pct_change is also null when value_a is zero,
// never infinity or NaN. Rows are ordered by |delta| descending with
// null-delta rows last, ties broken by entity name ascending.
func (s *Server) compare(w http.ResponseWriter, r *http.Request) {
	metricID, err := requireUUID(r, "metric_id")
	if err != nil {
		s.fail(w, err)
		return
	}
	yearA, err := requireInt(r, "year_a")
	if err != nil {
		s.fail(w, err)
		return
	}
	yearB, err := requireInt(r, "year_b")
	if err != nil {
		s.fail(w, err)
		return
	}
	entityID, err := queryUUID(r, "entity_id")
	if err != nil {
		s.fail(w, err)
		return
	}

	if _, err := s.store.MetricByID(r.Context(), metricID); err != nil {
		s.fail(w, err)
		return
	}
	factsA, err := s.store.YearFacts(r.Context(), metricID, yearA, entityID)
	if err != nil {
		s.fail(w, err)
		return
	}
	factsB, err := s.store.YearFacts(r.Context(), metricID, yearB, entityID)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, compareDTO{
		MetricID:    metricID.String(),
		YearA:       yearA,
		YearB:       yearB,
		Comparisons: compareRows(factsA, factsB),
	})
}

func compareRows(factsA, factsB []store.YearFact) []comparisonDTO {
	byEntity := make(map[uuid.UUID]*comparisonDTO, len(factsA)+len(factsB))
	rows := make([]*comparisonDTO, 0, len(factsA)+len(factsB))
	row := func(f store.YearFact) *comparisonDTO {
		if c, ok := byEntity[f.EntityID]; ok {
			return c
		}
		c := &comparisonDTO{EntityID: f.EntityID.String(), EntityName: f.EntityName}
		byEntity[f.EntityID] = c
		rows = append(rows, c)
		return c
	}

	for _, f := range factsA {
		c := row(f)
		v, id := f.Value, f.FactID.String()
		c.ValueA, c.FactIDA = &v, &id
	}
	for _, f := range factsB {
		c := row(f)
		v, id := f.Value, f.FactID.String()
		c.ValueB, c.FactIDB = &v, &id
	}

	for _, c := range rows {
		if c.ValueA == nil || c.ValueB == nil {
			continue
		}
		d := *c.ValueB - *c.ValueA
		c.Delta = &d
		if *c.ValueA != 0 {
			pct := 100 * d / *c.ValueA
			c.PctChange = &pct
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		di, dj := rows[i].Delta, rows[j].Delta
		switch {
		case di != nil && dj != nil:
			ai, aj := math.Abs(*di), math.Abs(*dj)
			if ai != aj {
				return ai > aj
			}
		case di != nil:
			return true
		case dj != nil:
			return false
		}
		return rows[i].EntityName < rows[j].EntityName
	})

	out := make([]comparisonDTO, len(rows))
	for i, c := range rows {
		out[i] = *c
	}
	return out
}

type compareDTO struct {
	MetricID    string          `json:"metric_id"`
	YearA       int             `json:"year_a"`
	YearB       int             `json:"year_b"`
	Comparisons []comparisonDTO `json:"comparisons"`
}

type comparisonDTO struct {
	EntityID   string   `json:"entity_id"`
	EntityName string   `json:"entity_name"`
	ValueA     *float64 `json:"value_a"`
	ValueB     *float64 `json:"value_b"`
	Delta      *float64 `json:"delta"`
	PctChange  *float64 `json:"pct_change"`
	FactIDA    *string  `json:"fact_id_a"`
	FactIDB    *string  `json:"fact_id_b"`
}
