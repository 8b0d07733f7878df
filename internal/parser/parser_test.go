package parser

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/estado-transparente/pipeline/internal/blob"
	"github.com/estado-transparente/pipeline/internal/clock"
	"github.com/estado-transparente/pipeline/internal/config"
	"github.com/estado-transparente/pipeline/internal/faults"
	"github.com/estado-transparente/pipeline/internal/hash/sha256"
	iduuid "github.com/estado-transparente/pipeline/internal/id/uuid"
	"github.com/estado-transparente/pipeline/internal/registry"
	"github.com/estado-transparente/pipeline/internal/store"
)

type fakeStore struct {
	artifact *store.Artifact
	metric   *store.Metric
	lastHash string

	startErr   error
	persistErr error

	started      int
	jobSource    string
	appended     []map[string]any
	finishStatus string
	finishErrTxt string
	finishDetail map[string]any
	parsedCalls  int
	parsedStatus string
	parseError   string
	persisted    *store.Batch
}

func (f *fakeStore) StartJob(_ context.Context, _ uuid.UUID, _, _ string, _ time.Time) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeStore) SetJobSource(_ context.Context, _ uuid.UUID, sourceID string) error {
	f.jobSource = sourceID
	return nil
}

func (f *fakeStore) AppendJobDetail(_ context.Context, _ uuid.UUID, detail map[string]any) error {
	f.appended = append(f.appended, detail)
	return nil
}

func (f *fakeStore) FinishJob(_ context.Context, _ uuid.UUID, status, errText string, detail map[string]any, _ time.Time) error {
	f.finishStatus = status
	f.finishErrTxt = errText
	f.finishDetail = detail
	return nil
}

func (f *fakeStore) ArtifactByID(_ context.Context, id uuid.UUID) (*store.Artifact, error) {
	if f.artifact == nil || f.artifact.ID != id {
		return nil, faults.Newf(faults.KindNotFound, "artifact %s not found", id)
	}
	a := *f.artifact
	return &a, nil
}

func (f *fakeStore) SetArtifactParsed(_ context.Context, _ uuid.UUID, status, parseError string) error {
	f.parsedCalls++
	f.parsedStatus = status
	f.parseError = parseError
	return nil
}

func (f *fakeStore) MetricByKey(_ context.Context, key string) (*store.Metric, error) {
	if f.metric == nil || f.metric.MetricKey != key {
		return nil, faults.Newf(faults.KindUnknownMetric, "metric %q is not registered", key)
	}
	m := *f.metric
	return &m, nil
}

func (f *fakeStore) PersistBatch(_ context.Context, b store.Batch) error {
	if f.persistErr != nil {
		return f.persistErr
	}
	f.persisted = &b
	return nil
}

func (f *fakeStore) LastFactsHash(_ context.Context, _ uuid.UUID) (string, error) {
	return f.lastHash, nil
}

func newTestParser(st *fakeStore, blobs blob.Store) *Parser {
	fixed := clock.NewFixed(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	return New(st, blobs, registry.New(), sha256.Hasher{}, iduuid.NewGenerator(), fixed, config.NamePolicyFirstSeen, zap.NewNop())
}

func putArtifact(t *testing.T, blobs blob.Store, sourceID, csvText string) *store.Artifact {
	t.Helper()
	data := []byte(csvText)
	digest, err := sha256.Hasher{}.Hash(data)
	require.NoError(t, err)
	kind, path, err := blobs.Put(context.Background(), blob.KeyForDigest(sha256.HexPart(digest)), data, "text/csv")
	require.NoError(t, err)
	return &store.Artifact{
		ID:           uuid.New(),
		SourceID:     sourceID,
		URL:          "https://www.dipres.gob.cl/descargas/ley2026.csv",
		CapturedAt:   time.Date(2026, time.February, 1, 8, 0, 0, 0, time.UTC),
		ContentHash:  digest,
		MIMEType:     "text/csv",
		SizeBytes:    int64(len(data)),
		StorageKind:  kind,
		StoragePath:  path,
		ParsedStatus: store.ParsePending,
	}
}

func testMetric() *store.Metric {
	return &store.Metric{
		ID:          uuid.MustParse("c0a80121-7ac0-4b1c-9d01-000000000001"),
		MetricKey:   "presupuesto_ley",
		DisplayName: "Presupuesto Ley de Presupuestos",
		Unit:        "CLP",
	}
}

func fixtureHash(t *testing.T, csvText string) string {
	t.Helper()
	batch, err := normalize(t, testSource(t), csvText)
	require.NoError(t, err)
	batch.Sort()
	h, err := batch.Hash()
	require.NoError(t, err)
	return h
}

func TestParsePersistsSnapshot(t *testing.T) {
	blobs := blob.NewMemory()
	art := putArtifact(t, blobs, "dipres_ley_2026", dipresCSV(
		"01;;;;;;PRESIDENCIA DE LA REPUBLICA;98890205;104",
		"09;;;;;;MINISTERIO DE EDUCACION;15803220935;16640",
	))
	st := &fakeStore{artifact: art, metric: testMetric()}

	res, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{})
	require.NoError(t, err)

	assert.Equal(t, "dipres_ley_2026", res.SourceID)
	assert.Equal(t, 2, res.Facts)
	assert.True(t, strings.HasPrefix(res.FactsHash, "sha256:"))
	assert.NotEqual(t, uuid.Nil, res.SnapshotID)

	require.NotNil(t, st.persisted)
	assert.Equal(t, res.SnapshotID, st.persisted.SnapshotID)
	assert.Equal(t, art.ID, st.persisted.ArtifactID)
	assert.Equal(t, testMetric().ID, st.persisted.MetricID)
	assert.Equal(t, "partida", st.persisted.EntityType)
	assert.Equal(t, config.NamePolicyFirstSeen, st.persisted.NamePolicy)

	require.Len(t, st.persisted.Facts, 2)
	assert.Equal(t, "01", st.persisted.Facts[0].EntityKey)
	assert.Equal(t, "09", st.persisted.Facts[1].EntityKey)
	assert.Equal(t, float64(98890205), st.persisted.Facts[0].Value)
	assert.Equal(t, "csv:line=2", st.persisted.Facts[0].Location)
	assert.JSONEq(t, `{"partida_code":"01","aggregated_rows":1}`, string(st.persisted.Facts[0].Dims))

	assert.Equal(t, store.ParseOK, st.parsedStatus)
	assert.Equal(t, store.JobOK, st.finishStatus)
	assert.Equal(t, "dipres_ley_2026", st.jobSource)
	assert.Equal(t, 2, st.finishDetail["facts"])
	assert.Equal(t, res.FactsHash, st.finishDetail["facts_hash"])
	assert.Equal(t, art.ID.String(), st.finishDetail["artifact_id"])
}

func TestParseHashDeterministicAcrossRuns(t *testing.T) {
	csvText := dipresCSV(
		"01;;;;;;PRESIDENCIA DE LA REPUBLICA;98890205;104",
		"01;01;01;21;;;Gastos en Personal;45000000;47",
		"09;;;;;;MINISTERIO DE EDUCACION;15803220935;16640",
	)
	run := func() string {
		blobs := blob.NewMemory()
		art := putArtifact(t, blobs, "dipres_ley_2026", csvText)
		st := &fakeStore{artifact: art, metric: testMetric()}
		res, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{})
		require.NoError(t, err)
		return res.FactsHash
	}
	assert.Equal(t, run(), run())
}

func TestParseRefusesParsedArtifact(t *testing.T) {
	blobs := blob.NewMemory()
	art := putArtifact(t, blobs, "dipres_ley_2026", dipresCSV("01;;;;;;PRESIDENCIA;10;0"))
	art.ParsedStatus = store.ParseOK
	st := &fakeStore{artifact: art, metric: testMetric()}

	_, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindDuplicateParse))
	assert.Nil(t, st.persisted)
	assert.Zero(t, st.parsedCalls)
	assert.Equal(t, store.JobFailed, st.finishStatus)
	assert.Equal(t, "dipres_ley_2026", st.jobSource)
}

func TestParseMissingArtifact(t *testing.T) {
	st := &fakeStore{}

	_, err := newTestParser(st, blob.NewMemory()).Parse(context.Background(), uuid.New(), Options{})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindNotFound))
	assert.Equal(t, store.JobFailed, st.finishStatus)
}

func TestParseIntegrityMismatch(t *testing.T) {
	blobs := blob.NewMemory()
	art := putArtifact(t, blobs, "dipres_ley_2026", dipresCSV("01;;;;;;PRESIDENCIA;10;0"))
	art.ContentHash = "sha256:" + strings.Repeat("0", 64)
	st := &fakeStore{artifact: art, metric: testMetric()}

	_, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindIntegrity))
	assert.Nil(t, st.persisted)
	assert.Equal(t, store.ParseFailed, st.parsedStatus)
	assert.Contains(t, st.parseError, "mismatch")
	// The blob stays put for forensics.
	assert.Equal(t, 1, blobs.Len())
}

func TestParseSchemaDriftRecordsDiff(t *testing.T) {
	blobs := blob.NewMemory()
	drifted := strings.Replace(dipresHeader, "Monto Pesos", "Monto (Pesos)", 1) +
		"\n01;;;;;;PRESIDENCIA;10;0\n"
	art := putArtifact(t, blobs, "dipres_ley_2026", drifted)
	st := &fakeStore{artifact: art, metric: testMetric()}

	_, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindSchemaAmbiguity))
	assert.Nil(t, st.persisted)
	assert.Equal(t, store.ParseFailed, st.parsedStatus)

	require.Len(t, st.appended, 1)
	diff, ok := st.appended[0]["header_diff"].(string)
	require.True(t, ok)
	assert.Contains(t, diff, `want "Monto Pesos", got "Monto (Pesos)"`)
}

func TestParseRowValidationMarksArtifactFailed(t *testing.T) {
	blobs := blob.NewMemory()
	art := putArtifact(t, blobs, "dipres_ley_2026", dipresCSV("01;;;;;;PRESIDENCIA;1.234,56;0"))
	st := &fakeStore{artifact: art, metric: testMetric()}

	_, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindRowValidation))
	assert.Nil(t, st.persisted)
	assert.Equal(t, store.ParseFailed, st.parsedStatus)
	assert.Contains(t, st.parseError, "line 2")
	assert.Contains(t, st.finishErrTxt, "row_validation")
}

func TestParseHeaderOnlyCreatesEmptySnapshot(t *testing.T) {
	blobs := blob.NewMemory()
	art := putArtifact(t, blobs, "dipres_ley_2026", dipresHeader+"\n")
	st := &fakeStore{artifact: art, metric: testMetric()}

	res, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Facts)
	require.NotNil(t, st.persisted)
	assert.Empty(t, st.persisted.Facts)
	assert.Equal(t, store.ParseOK, st.parsedStatus)
}

func TestParseDryRunWritesNothing(t *testing.T) {
	blobs := blob.NewMemory()
	art := putArtifact(t, blobs, "dipres_ley_2026", dipresCSV("01;;;;;;PRESIDENCIA;10;0"))
	st := &fakeStore{artifact: art, metric: testMetric()}

	res, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{DryRun: true})
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Equal(t, uuid.Nil, res.SnapshotID)
	assert.Equal(t, 1, res.Facts)
	assert.True(t, strings.HasPrefix(res.FactsHash, "sha256:"))
	assert.Nil(t, st.persisted)
	assert.Zero(t, st.parsedCalls)
	assert.Equal(t, store.JobOK, st.finishStatus)
	assert.Equal(t, true, st.finishDetail["dry_run"])
}

func TestParseDryRunKeepsDuplicateRefusal(t *testing.T) {
	blobs := blob.NewMemory()
	art := putArtifact(t, blobs, "dipres_ley_2026", dipresCSV("01;;;;;;PRESIDENCIA;10;0"))
	art.ParsedStatus = store.ParseOK
	st := &fakeStore{artifact: art, metric: testMetric()}

	_, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{DryRun: true})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindDuplicateParse))
}

func TestParseDryRunFailureLeavesArtifactPending(t *testing.T) {
	blobs := blob.NewMemory()
	drifted := strings.Replace(dipresHeader, "Partida", "Partidas", 1) + "\n"
	art := putArtifact(t, blobs, "dipres_ley_2026", drifted)
	st := &fakeStore{artifact: art, metric: testMetric()}

	_, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{DryRun: true})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindSchemaAmbiguity))
	assert.Zero(t, st.parsedCalls)
}

func TestParseVerifyMatchesRecordedHash(t *testing.T) {
	csvText := dipresCSV(
		"01;;;;;;PRESIDENCIA;10;0",
		"09;;;;;;EDUCACION;20;0",
	)
	blobs := blob.NewMemory()
	art := putArtifact(t, blobs, "dipres_ley_2026", csvText)
	art.ParsedStatus = store.ParseOK
	st := &fakeStore{artifact: art, metric: testMetric(), lastHash: fixtureHash(t, csvText)}

	res, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{Verify: true})
	require.NoError(t, err)

	assert.True(t, res.Verified)
	assert.Equal(t, 2, res.Facts)
	assert.Nil(t, st.persisted)
	assert.Zero(t, st.parsedCalls)
	assert.Equal(t, store.JobOK, st.finishStatus)
	assert.Equal(t, true, st.finishDetail["verified"])
}

func TestParseVerifyMismatchIsIntegrityFailure(t *testing.T) {
	blobs := blob.NewMemory()
	art := putArtifact(t, blobs, "dipres_ley_2026", dipresCSV("01;;;;;;PRESIDENCIA;10;0"))
	art.ParsedStatus = store.ParseOK
	st := &fakeStore{artifact: art, metric: testMetric(), lastHash: "sha256:" + strings.Repeat("ab", 32)}

	_, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{Verify: true})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindIntegrity))
	// Verification never rewrites the artifact's parsed status.
	assert.Zero(t, st.parsedCalls)
	assert.Equal(t, store.JobFailed, st.finishStatus)
}

func TestParseVerifyWithoutPriorParse(t *testing.T) {
	blobs := blob.NewMemory()
	art := putArtifact(t, blobs, "dipres_ley_2026", dipresCSV("01;;;;;;PRESIDENCIA;10;0"))
	st := &fakeStore{artifact: art, metric: testMetric()}

	_, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{Verify: true})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindNotFound))
}

func TestParseDryRunAndVerifyExclusive(t *testing.T) {
	st := &fakeStore{}

	_, err := newTestParser(st, blob.NewMemory()).Parse(context.Background(), uuid.New(), Options{DryRun: true, Verify: true})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindBadRequest))
	assert.Zero(t, st.started)
}

func TestParseUnknownMetric(t *testing.T) {
	blobs := blob.NewMemory()
	art := putArtifact(t, blobs, "dipres_ley_2026", dipresCSV("01;;;;;;PRESIDENCIA;10;0"))
	st := &fakeStore{artifact: art}

	_, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindUnknownMetric))
	assert.Nil(t, st.persisted)
	assert.Equal(t, store.ParseFailed, st.parsedStatus)
}

func TestParseUnitMismatch(t *testing.T) {
	blobs := blob.NewMemory()
	art := putArtifact(t, blobs, "dipres_ley_2026", dipresCSV("01;;;;;;PRESIDENCIA;10;0"))
	metric := testMetric()
	metric.Unit = "USD"
	st := &fakeStore{artifact: art, metric: metric}

	_, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindUnknownMetric))
	assert.Contains(t, err.Error(), "unit")
}

func TestParseUnknownSourceLeavesArtifactPending(t *testing.T) {
	blobs := blob.NewMemory()
	art := putArtifact(t, blobs, "dipres_ley_1999", dipresCSV("01;;;;;;PRESIDENCIA;10;0"))
	st := &fakeStore{artifact: art, metric: testMetric()}

	_, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindBadRequest))
	assert.Zero(t, st.parsedCalls)
}

func TestParseJobOpenFailure(t *testing.T) {
	st := &fakeStore{startErr: assert.AnError}

	_, err := newTestParser(st, blob.NewMemory()).Parse(context.Background(), uuid.New(), Options{})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindPersist))
}

func TestParsePersistErrorLeavesArtifactPending(t *testing.T) {
	blobs := blob.NewMemory()
	art := putArtifact(t, blobs, "dipres_ley_2026", dipresCSV("01;;;;;;PRESIDENCIA;10;0"))
	st := &fakeStore{artifact: art, metric: testMetric(), persistErr: assert.AnError}

	_, err := newTestParser(st, blobs).Parse(context.Background(), art.ID, Options{})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindPersist))
	assert.Zero(t, st.parsedCalls)
	assert.Equal(t, store.JobFailed, st.finishStatus)
}
