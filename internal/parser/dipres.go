package parser

import (
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/estado-transparente/pipeline/internal/faults"
	"github.com/estado-transparente/pipeline/internal/registry"
)

// amountPattern is the only accepted number shape: optional sign, digits,
// optional decimal part. No thousands separators, no scientific notation,
// no currency symbols.
var amountPattern = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// dipresRow mirrors one line of a DIPRES ley CSV. Every field decodes as a
// raw string; trimming and number parsing happen during normalization so
// faults can name the physical line.
type dipresRow struct {
	Partida      string `csv:"Partida"`
	Capitulo     string `csv:"Capitulo"`
	Programa     string `csv:"Programa"`
	Subtitulo    string `csv:"Subtitulo"`
	Item         string `csv:"Ítem"`
	Asignacion   string `csv:"Asignacion"`
	Denominacion string `csv:"Denominacion"`
	MontoPesos   string `csv:"Monto Pesos"`
	MontoDolar   string `csv:"Monto Dolar"`
}

// DipresLeyCSV folds DIPRES "Ley de Presupuestos" rows into one fact per
// partida: summed Monto Pesos, the first-seen Denominacion as the display
// name, and per-subtitulo sums in dims. Monto Dolar is carried in the file
// but unused until a USD metric is registered.
type DipresLeyCSV struct{}

func (DipresLeyCSV) Name() string { return registry.StrategyDipresLeyCSVV1 }

// Validate refuses any header that is not exactly the registered column
// list. Columns are never renamed or reordered on the fly; the registry
// entry changes instead.
func (DipresLeyCSV) Validate(src registry.Source, header []string) error {
	if diff := HeaderDiff(src.Header, header); len(diff) > 0 {
		return faults.Newf(faults.KindSchemaAmbiguity, "parser: source %s header mismatch: %s", src.ID, strings.Join(diff, "; "))
	}
	return nil
}

// partidaGroup accumulates one partida while rows stream by. The total sums
// in row order, so the float result is reproducible for fixed input bytes.
type partidaGroup struct {
	name       string
	total      float64
	subtotals  map[string]float64
	rows       int
	firstLine  int
	lastLine   int
	contiguous bool
}

func (g *partidaGroup) add(line int, amount float64, subtitulo string) {
	if g.rows > 0 && line != g.lastLine+1 {
		g.contiguous = false
	}
	if g.rows == 0 {
		g.firstLine = line
		g.contiguous = true
	}
	g.lastLine = line
	g.rows++
	g.total += amount
	if subtitulo != "" {
		g.subtotals[subtitulo] += amount
	}
}

func (g *partidaGroup) location(key string) string {
	switch {
	case g.rows == 1:
		return fmt.Sprintf("csv:line=%d", g.firstLine)
	case g.contiguous:
		return fmt.Sprintf("csv:lines=%d-%d", g.firstLine, g.lastLine)
	default:
		return "csv:group=" + key
	}
}

// Normalize streams the data rows and aggregates them by partida code.
// Groups are tracked in first-seen order and only iterated once all rows
// are consumed; no map iteration touches the sums.
func (DipresLeyCSV) Normalize(src registry.Source, r *Reader) (*FactBatch, error) {
	dec, err := csvutil.NewDecoder(r, src.Header...)
	if err != nil {
		return nil, eris.Wrapf(err, "parser: build decoder for source %s", src.ID)
	}

	var (
		order  []string
		groups = make(map[string]*partidaGroup)
	)
	for {
		var row dipresRow
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, faults.Wrap(faults.KindRowValidation, err, "parser: source "+src.ID+": read row")
		}
		line := r.Line()

		key := strings.TrimSpace(row.Partida)
		name := strings.TrimSpace(row.Denominacion)
		raw := strings.TrimSpace(row.MontoPesos)
		switch {
		case key == "":
			return nil, rowFault(src, line, src.Mapping.EntityKey, "required cell is empty")
		case name == "":
			return nil, rowFault(src, line, src.Mapping.EntityName, "required cell is empty")
		case raw == "":
			return nil, rowFault(src, line, src.Mapping.Value, "required cell is empty")
		}
		amount, err := parseAmount(raw)
		if err != nil {
			return nil, rowFault(src, line, src.Mapping.Value, err.Error())
		}

		g, ok := groups[key]
		if !ok {
			g = &partidaGroup{name: name, subtotals: make(map[string]float64)}
			groups[key] = g
			order = append(order, key)
		}
		g.add(line, amount, strings.TrimSpace(row.Subtitulo))
	}

	batch := &FactBatch{SourceID: src.ID, MetricKey: src.MetricKey}
	for _, key := range order {
		g := groups[key]
		dims := map[string]any{
			"partida_code":    key,
			"aggregated_rows": g.rows,
		}
		if len(g.subtotals) > 0 {
			dims["subtitulo_breakdown"] = g.subtotals
		}
		batch.Facts = append(batch.Facts, CanonicalFact{
			EntityKey:   key,
			EntityName:  g.name,
			MetricKey:   src.MetricKey,
			PeriodStart: src.PeriodStart(),
			PeriodEnd:   src.PeriodEnd(),
			Value:       g.total,
			Unit:        src.Unit,
			Dims:        dims,
			Location:    g.location(key),
		})
	}
	return batch, nil
}

// parseAmount converts a trimmed cell under the strict number rule. Amounts
// that only make sense with locale guessing (dots as thousands separators,
// comma decimals) are rejected rather than reinterpreted.
func parseAmount(raw string) (float64, error) {
	if !amountPattern.MatchString(raw) {
		return 0, eris.Errorf("amount %q does not match the strict number format", raw)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "amount %q", raw)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, eris.Errorf("amount %q is not finite", raw)
	}
	return v, nil
}

func rowFault(src registry.Source, line int, column, detail string) error {
	return faults.Newf(faults.KindRowValidation, "parser: source %s line %d: column %q: %s", src.ID, line, column, detail)
}
