package api

import (
	"net/http"
	"slices"
	"sort"

	"github.com/estado-transparente/pipeline/internal/faults"
)

// dashboard handles GET /dashboard?year=. It summarizes the configured
// headline metric for one year: the total across all entities, the
// year-over-year change against the preceding year when one exists, and
// every entity ranked by value with its share of the total. The year
// defaults to the latest with any data; 404 when the metric has no facts
// at all.
func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	yearParam, err := queryInt(r, "year")
	if err != nil {
		s.fail(w, err)
		return
	}

	metric, err := s.store.MetricByKey(r.Context(), s.cfg.HeadlineMetric)
	if err != nil {
		s.fail(w, err)
		return
	}
	years, err := s.store.AvailableYears(r.Context(), metric.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if len(years) == 0 {
		s.fail(w, faults.Newf(faults.KindNotFound, "no facts recorded for metric %q", metric.MetricKey))
		return
	}
	year := years[len(years)-1]
	if yearParam != nil {
		year = *yearParam
	}

	facts, err := s.store.YearFacts(r.Context(), metric.ID, year, nil)
	if err != nil {
		s.fail(w, err)
		return
	}
	var total float64
	for _, f := range facts {
		total += f.Value
	}

	// Year-over-year only when the preceding year has data, and never a
	// division by zero.
	var yoy *float64
	if slices.Contains(years, year-1) {
		prevFacts, err := s.store.YearFacts(r.Context(), metric.ID, year-1, nil)
		if err != nil {
			s.fail(w, err)
			return
		}
		var prev float64
		for _, f := range prevFacts {
			prev += f.Value
		}
		if prev != 0 {
			pct := 100 * (total - prev) / prev
			yoy = &pct
		}
	}

	entities := make([]dashboardEntityDTO, 0, len(facts))
	for _, f := range facts {
		e := dashboardEntityDTO{
			EntityID:   f.EntityID.String(),
			EntityKey:  f.EntityKey,
			EntityName: f.EntityName,
			Value:      f.Value,
			FactID:     f.FactID.String(),
		}
		if total != 0 {
			share := 100 * f.Value / total
			e.SharePct = &share
		}
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Value != entities[j].Value {
			return entities[i].Value > entities[j].Value
		}
		return entities[i].EntityName < entities[j].EntityName
	})

	writeJSON(w, http.StatusOK, dashboardDTO{
		Year:           year,
		MetricKey:      metric.MetricKey,
		TotalValue:     total,
		Unit:           metric.Unit,
		YoYChangePct:   yoy,
		AvailableYears: years,
		Entities:       entities,
	})
}

type dashboardDTO struct {
	Year           int                  `json:"year"`
	MetricKey      string               `json:"metric_key"`
	TotalValue     float64              `json:"total_value"`
	Unit           string               `json:"unit"`
	YoYChangePct   *float64             `json:"yoy_change_pct"`
	AvailableYears []int                `json:"available_years"`
	Entities       []dashboardEntityDTO `json:"entities"`
}

type dashboardEntityDTO struct {
	EntityID   string   `json:"entity_id"`
	EntityKey  string   `json:"entity_key"`
	EntityName string   `json:"entity_name"`
	Value      float64  `json:"value"`
	SharePct   *float64 `json:"share_pct"`
	FactID     string   `json:"fact_id"`
}
