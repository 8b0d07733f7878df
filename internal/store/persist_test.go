package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estado-transparente/pipeline/internal/config"
)

func testBatch() Batch {
	return Batch{
		SnapshotID: uuid.MustParse("0198c5f0-0000-7000-8000-000000000050"),
		CreatedAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Note:       "parse dipres_ley_2024",
		ArtifactID: uuid.MustParse("0198c5f0-0000-7000-8000-000000000051"),
		MetricID:   uuid.MustParse("c0a80121-7ac0-4b1c-9d01-000000000001"),
		EntityType: "partida",
		NamePolicy: config.NamePolicyFirstSeen,
		Facts: []FactInsert{{
			FactID:       uuid.MustParse("0198c5f0-0000-7000-8000-000000000052"),
			ProvenanceID: uuid.MustParse("0198c5f0-0000-7000-8000-000000000053"),
			EntityID:     uuid.MustParse("0198c5f0-0000-7000-8000-000000000054"),
			EntityKey:    "09",
			EntityName:   "Ministerio de Educación",
			PeriodStart:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			PeriodEnd:    time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
			Value:        15803220935.0,
			Unit:         "CLP",
			Dims:         []byte(`{"partida_code":"09"}`),
			Location:     "csv:lines=120-187",
		}},
	}
}

func TestPersistBatchNewEntity(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b := testBatch()
	f := b.Facts[0]

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs(b.SnapshotID, b.CreatedAt, b.Note).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("INSERT INTO entities .+ DO NOTHING").
		WithArgs(f.EntityID, f.EntityKey, f.EntityName, b.EntityType).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(f.EntityID))
	mock.ExpectExec("INSERT INTO facts").
		WithArgs(f.FactID, b.SnapshotID, f.EntityID, b.MetricID,
			f.PeriodStart, f.PeriodEnd, f.Value, f.Unit, f.Dims).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO provenance").
		WithArgs(f.ProvenanceID, f.FactID, b.ArtifactID, f.Location, "parse", b.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = New(mock).PersistBatch(context.Background(), b)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistBatchExistingEntityKeepsFirstSeenName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b := testBatch()
	f := b.Facts[0]
	existingID := uuid.MustParse("0198c5f0-0000-7000-8000-000000000055")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs(b.SnapshotID, b.CreatedAt, b.Note).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// Conflict: DO NOTHING returns no row, the id comes from the follow-up select.
	mock.ExpectQuery("INSERT INTO entities .+ DO NOTHING").
		WithArgs(f.EntityID, f.EntityKey, f.EntityName, b.EntityType).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT id FROM entities WHERE natural_key").
		WithArgs(f.EntityKey).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(existingID))
	mock.ExpectExec("INSERT INTO facts").
		WithArgs(f.FactID, b.SnapshotID, existingID, b.MetricID,
			f.PeriodStart, f.PeriodEnd, f.Value, f.Unit, f.Dims).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO provenance").
		WithArgs(f.ProvenanceID, f.FactID, b.ArtifactID, f.Location, "parse", b.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = New(mock).PersistBatch(context.Background(), b)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistBatchLatestPolicyOverwritesName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b := testBatch()
	b.NamePolicy = config.NamePolicyLatest
	f := b.Facts[0]

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs(b.SnapshotID, b.CreatedAt, b.Note).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("INSERT INTO entities .+ DO UPDATE SET display_name").
		WithArgs(f.EntityID, f.EntityKey, f.EntityName, b.EntityType).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(f.EntityID))
	mock.ExpectExec("INSERT INTO facts").
		WithArgs(f.FactID, b.SnapshotID, f.EntityID, b.MetricID,
			f.PeriodStart, f.PeriodEnd, f.Value, f.Unit, f.Dims).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO provenance").
		WithArgs(f.ProvenanceID, f.FactID, b.ArtifactID, f.Location, "parse", b.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = New(mock).PersistBatch(context.Background(), b)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistBatchRollsBackOnFactError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b := testBatch()
	f := b.Facts[0]

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs(b.SnapshotID, b.CreatedAt, b.Note).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("INSERT INTO entities .+ DO NOTHING").
		WithArgs(f.EntityID, f.EntityKey, f.EntityName, b.EntityType).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(f.EntityID))
	mock.ExpectExec("INSERT INTO facts").
		WillReturnError(eris.New("disk full"))
	mock.ExpectRollback()

	err = New(mock).PersistBatch(context.Background(), b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert fact")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistBatchEmptyDimsDefaultToObject(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b := testBatch()
	b.Facts[0].Dims = nil
	f := b.Facts[0]

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs(b.SnapshotID, b.CreatedAt, b.Note).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("INSERT INTO entities .+ DO NOTHING").
		WithArgs(f.EntityID, f.EntityKey, f.EntityName, b.EntityType).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(f.EntityID))
	mock.ExpectExec("INSERT INTO facts").
		WithArgs(f.FactID, b.SnapshotID, f.EntityID, b.MetricID,
			f.PeriodStart, f.PeriodEnd, f.Value, f.Unit, []byte(`{}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO provenance").
		WithArgs(f.ProvenanceID, f.FactID, b.ArtifactID, f.Location, "parse", b.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = New(mock).PersistBatch(context.Background(), b)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
