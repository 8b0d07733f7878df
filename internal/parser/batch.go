package parser

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/estado-transparente/pipeline/internal/hash/sha256"
)

const dateLayout = "2006-01-02"

// CanonicalFact is one aggregated fact in its canonical form. For fixed
// input bytes every field is bit-identical across runs: values derive only
// from the source rows and the registered source contract, never from the
// clock, the process, or map iteration order.
type CanonicalFact struct {
	EntityKey   string
	EntityName  string
	MetricKey   string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Value       float64
	Unit        string
	Dims        map[string]any

	// Location points at the source lines backing this fact. It feeds the
	// provenance row and is excluded from the canonical bytes.
	Location string
}

// MarshalJSON writes the canonical field order. Dims go through the stdlib
// encoder, which sorts map keys, so nested maps stay deterministic.
func (f CanonicalFact) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString(`"entity_key":`)
	b, _ := json.Marshal(f.EntityKey)
	buf.Write(b)

	buf.WriteString(`,"entity_name":`)
	b, _ = json.Marshal(f.EntityName)
	buf.Write(b)

	buf.WriteString(`,"metric_key":`)
	b, _ = json.Marshal(f.MetricKey)
	buf.Write(b)

	buf.WriteString(`,"period_start":`)
	b, _ = json.Marshal(f.PeriodStart.Format(dateLayout))
	buf.Write(b)

	buf.WriteString(`,"period_end":`)
	b, _ = json.Marshal(f.PeriodEnd.Format(dateLayout))
	buf.Write(b)

	buf.WriteString(`,"value_num":`)
	vb, err := json.Marshal(f.Value)
	if err != nil {
		return nil, eris.Wrapf(err, "parser: marshal value for %s", f.EntityKey)
	}
	buf.Write(vb)

	buf.WriteString(`,"unit":`)
	b, _ = json.Marshal(f.Unit)
	buf.Write(b)

	buf.WriteString(`,"dims":`)
	if f.Dims == nil {
		buf.WriteString("{}")
	} else {
		db, err := json.Marshal(f.Dims)
		if err != nil {
			return nil, eris.Wrapf(err, "parser: marshal dims for %s", f.EntityKey)
		}
		buf.Write(db)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalDims returns the canonical JSON encoding of the dims map, as stored
// in the facts.dims column.
func (f CanonicalFact) MarshalDims() ([]byte, error) {
	if f.Dims == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(f.Dims)
	if err != nil {
		return nil, eris.Wrapf(err, "parser: marshal dims for %s", f.EntityKey)
	}
	return b, nil
}

// FactBatch is the output of one normalization pass over an artifact.
type FactBatch struct {
	SourceID  string
	MetricKey string
	Facts     []CanonicalFact
}

// Sort orders facts by (metric_key, entity_key), the canonical insertion
// order.
func (b *FactBatch) Sort() {
	sort.SliceStable(b.Facts, func(i, j int) bool {
		if b.Facts[i].MetricKey != b.Facts[j].MetricKey {
			return b.Facts[i].MetricKey < b.Facts[j].MetricKey
		}
		return b.Facts[i].EntityKey < b.Facts[j].EntityKey
	})
}

// CanonicalJSON serializes a sorted copy of the facts with a fixed field
// order. Two parses of the same bytes produce identical output.
func (b *FactBatch) CanonicalJSON() ([]byte, error) {
	facts := make([]CanonicalFact, len(b.Facts))
	copy(facts, b.Facts)
	tmp := FactBatch{Facts: facts}
	tmp.Sort()

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := range tmp.Facts {
		if i > 0 {
			buf.WriteByte(',')
		}
		fb, err := json.Marshal(tmp.Facts[i])
		if err != nil {
			return nil, err
		}
		buf.Write(fb)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Hash returns "sha256:<hex>" over the canonical bytes. The parse job
// records it, and re-parses of the same artifact must reproduce it.
func (b *FactBatch) Hash() (string, error) {
	data, err := b.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return sha256.Hasher{}.Hash(data)
}
