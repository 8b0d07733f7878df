package store

import (
	"time"

	"github.com/google/uuid"
)

// Artifact is one fetched source file. The raw bytes live in the blob store
// at (StorageKind, StoragePath); ContentHash is "sha256:<hex>" over them.
type Artifact struct {
	ID           uuid.UUID
	SourceID     string
	URL          string
	CapturedAt   time.Time
	ContentHash  string
	MIMEType     string
	SizeBytes    int64
	StorageKind  string
	StoragePath  string
	ParsedStatus string
	ParseError   string
}

// Entity is a real-world organization keyed by a stable external code.
type Entity struct {
	ID          uuid.UUID
	NaturalKey  string
	DisplayName string
	EntityType  string
}

// Metric is one measurement kind. The set is closed: rows are seeded by
// migration, never created by the parser.
type Metric struct {
	ID          uuid.UUID
	MetricKey   string
	DisplayName string
	Unit        string
	Description string
}

// FactRow is a fact with its entity and metric names joined in, as served
// by the query endpoints.
type FactRow struct {
	ID          uuid.UUID
	SnapshotID  uuid.UUID
	EntityID    uuid.UUID
	EntityKey   string
	EntityName  string
	MetricID    uuid.UUID
	MetricKey   string
	MetricName  string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Value       float64
	Unit        string
	Dims        []byte
}

// YearFact is one entity's latest fact for a metric over one calendar year.
type YearFact struct {
	FactID     uuid.UUID
	EntityID   uuid.UUID
	EntityKey  string
	EntityName string
	Value      float64
}

// Evidence ties a fact back to the artifact it was parsed from.
type Evidence struct {
	Fact     FactRow
	Location string
	Method   string
	Artifact Artifact
}

// JobRun is one collector or parser invocation.
type JobRun struct {
	ID         uuid.UUID
	Component  string
	SourceID   string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Detail     []byte
	Error      string
}
