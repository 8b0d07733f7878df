// Package registry maps source identifiers to their ingestion contracts.
//
// The registered set is an allowlist. An unknown source id is refused, and
// every shape deviation from a registered contract is a parse failure —
// recovery means an operator edits the registration, never a runtime guess.
package registry

import (
	"slices"
	"strconv"
	"time"

	"github.com/estado-transparente/pipeline/internal/faults"
)

// StrategyDipresLeyCSVV1 parses DIPRES "Ley de Presupuestos" CSV exports:
// semicolon-delimited UTF-8, nine columns, grouped by Partida.
const StrategyDipresLeyCSVV1 = "dipres_ley_csv_v1"

// DipresLeyHeader is the exact column list a DIPRES ley CSV must carry.
var DipresLeyHeader = []string{
	"Partida",
	"Capitulo",
	"Programa",
	"Subtitulo",
	"Ítem",
	"Asignacion",
	"Denominacion",
	"Monto Pesos",
	"Monto Dolar",
}

// Mapping binds schema columns to canonical concepts.
type Mapping struct {
	EntityKey  string // column holding the entity natural key
	EntityName string // column holding the entity display name
	Value      string // column holding the numeric value to aggregate
	Breakdown  string // column whose per-code sums land in dims
}

// Source is one registered ingestion source: the shape its files must
// have and how their columns become facts.
type Source struct {
	ID          string
	Description string
	MIMEType    string
	Delimiter   rune
	Encoding    string // utf-8; a leading BOM is tolerated and stripped
	Strategy    string
	Header      []string
	Mapping     Mapping
	MetricKey   string
	Unit        string
	EntityType  string
	Year        int
}

// PeriodStart returns the first day of the source's budget year, UTC.
func (s Source) PeriodStart() time.Time {
	return time.Date(s.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// PeriodEnd returns the last day of the source's budget year, UTC.
func (s Source) PeriodEnd() time.Time {
	return time.Date(s.Year, time.December, 31, 0, 0, 0, 0, time.UTC)
}

// Registry resolves source ids to their contracts.
type Registry struct {
	sources map[string]Source
	order   []string
}

// New builds a registry pre-loaded with the built-in DIPRES sources.
func New() *Registry {
	r := &Registry{sources: make(map[string]Source)}
	for _, src := range builtin() {
		// Built-ins are constructed here; a registration failure is a
		// programming error.
		if err := r.Register(src); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds src after validating its internal consistency.
func (r *Registry) Register(src Source) error {
	if src.ID == "" {
		return faults.New(faults.KindBadRequest, "registry: source id must not be empty")
	}
	if _, exists := r.sources[src.ID]; exists {
		return faults.Newf(faults.KindBadRequest, "registry: source %q already registered", src.ID)
	}
	if src.Strategy != StrategyDipresLeyCSVV1 {
		return faults.Newf(faults.KindBadRequest, "registry: unknown strategy %q for source %q", src.Strategy, src.ID)
	}
	if len(src.Header) == 0 {
		return faults.Newf(faults.KindBadRequest, "registry: source %q has an empty header", src.ID)
	}
	if src.Delimiter == 0 {
		return faults.Newf(faults.KindBadRequest, "registry: source %q has no delimiter", src.ID)
	}
	if src.MetricKey == "" {
		return faults.Newf(faults.KindBadRequest, "registry: source %q has no metric key", src.ID)
	}
	if src.Unit == "" {
		return faults.Newf(faults.KindBadRequest, "registry: source %q has no unit", src.ID)
	}
	if src.Year <= 0 {
		return faults.Newf(faults.KindBadRequest, "registry: source %q has no budget year", src.ID)
	}
	for _, col := range []string{src.Mapping.EntityKey, src.Mapping.EntityName, src.Mapping.Value} {
		if !slices.Contains(src.Header, col) {
			return faults.Newf(faults.KindBadRequest, "registry: source %q maps column %q absent from its header", src.ID, col)
		}
	}
	if src.Mapping.Breakdown != "" && !slices.Contains(src.Header, src.Mapping.Breakdown) {
		return faults.Newf(faults.KindBadRequest, "registry: source %q maps breakdown column %q absent from its header", src.ID, src.Mapping.Breakdown)
	}
	r.sources[src.ID] = src
	r.order = append(r.order, src.ID)
	return nil
}

// Lookup resolves id or refuses.
func (r *Registry) Lookup(id string) (Source, error) {
	src, ok := r.sources[id]
	if !ok {
		return Source{}, faults.Newf(faults.KindBadRequest, "registry: source %q not registered", id)
	}
	return src, nil
}

// Sources lists registered sources in registration order.
func (r *Registry) Sources() []Source {
	out := make([]Source, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sources[id])
	}
	return out
}

func builtin() []Source {
	years := []int{2024, 2025, 2026}
	out := make([]Source, 0, len(years))
	for _, year := range years {
		out = append(out, dipresLey(year))
	}
	return out
}

func dipresLey(year int) Source {
	return Source{
		ID:          dipresLeyID(year),
		Description: "DIPRES Ley de Presupuestos " + strconv.Itoa(year) + ", apertura por partida",
		MIMEType:    "text/csv",
		Delimiter:   ';',
		Encoding:    "utf-8",
		Strategy:    StrategyDipresLeyCSVV1,
		Header:      slices.Clone(DipresLeyHeader),
		Mapping: Mapping{
			EntityKey:  "Partida",
			EntityName: "Denominacion",
			Value:      "Monto Pesos",
			Breakdown:  "Subtitulo",
		},
		MetricKey:  "presupuesto_ley",
		Unit:       "CLP",
		EntityType: "partida",
		Year:       year,
	}
}

func dipresLeyID(year int) string {
	return "dipres_ley_" + strconv.Itoa(year)
}
