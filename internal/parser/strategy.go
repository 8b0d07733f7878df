package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/estado-transparente/pipeline/internal/registry"
)

// Strategy turns one registered source shape into canonical facts. Each
// source id maps to exactly one strategy tag; a new source family is a new
// variant, not a subclass.
type Strategy interface {
	Name() string

	// Validate checks a header row against the source contract. Columns are
	// never inferred: any deviation is a schema_ambiguity fault.
	Validate(src registry.Source, header []string) error

	// Normalize consumes the data rows following the header and aggregates
	// them into a batch. The reader is positioned on line 2.
	Normalize(src registry.Source, r *Reader) (*FactBatch, error)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Reader walks a CSV document and tracks physical line numbers so provenance
// can point back at them. The header occupies line 1.
type Reader struct {
	cr   *csv.Reader
	line int
}

// NewReader builds a reader over data, stripping a leading UTF-8 BOM. The
// field count of the first record is enforced on every later record.
func NewReader(data []byte, delimiter rune) *Reader {
	data = bytes.TrimPrefix(data, utf8BOM)
	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = delimiter
	return &Reader{cr: cr}
}

// Read returns the next record and advances the line counter. It satisfies
// the reader contract csvutil decodes from.
func (r *Reader) Read() ([]string, error) {
	rec, err := r.cr.Read()
	if err != nil {
		return nil, err
	}
	r.line++
	return rec, nil
}

// Line reports the 1-based physical line of the most recent record.
func (r *Reader) Line() int {
	return r.line
}

// HeaderDiff reports per-position differences between the expected and the
// actual header after trimming surrounding whitespace. Empty means equal.
func HeaderDiff(want, got []string) []string {
	var diff []string
	n := len(want)
	if len(got) > n {
		n = len(got)
	}
	for i := 0; i < n; i++ {
		switch {
		case i >= len(want):
			diff = append(diff, fmt.Sprintf("column %d: unexpected %q", i+1, strings.TrimSpace(got[i])))
		case i >= len(got):
			diff = append(diff, fmt.Sprintf("column %d: missing %q", i+1, strings.TrimSpace(want[i])))
		default:
			w, g := strings.TrimSpace(want[i]), strings.TrimSpace(got[i])
			if w != g {
				diff = append(diff, fmt.Sprintf("column %d: want %q, got %q", i+1, w, g))
			}
		}
	}
	return diff
}
