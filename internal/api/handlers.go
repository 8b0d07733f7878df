package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/estado-transparente/pipeline/internal/blob"
	"github.com/estado-transparente/pipeline/internal/faults"
	"github.com/estado-transparente/pipeline/internal/hash/sha256"
	"github.com/estado-transparente/pipeline/internal/store"
)

// listMetrics handles GET /metrics. It returns {"metrics": [...]} with all
// registered metrics ordered by metric_key.
func (s *Server) listMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.store.ListMetrics(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": toMetricDTOs(metrics)})
}

// searchEntities handles GET /entities?query=&limit=. It returns
// {"entities": [...]} matching the case-insensitive substring on display
// name or natural key, ordered by display name. The store clamps the limit
// to [1, 100] with a default of 20.
func (s *Server) searchEntities(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, err)
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}
	entities, err := s.store.SearchEntities(r.Context(), r.URL.Query().Get("query"), n)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": toEntityDTOs(entities)})
}

// listFacts handles GET /facts?metric_id=&entity_id=&from=&to=&snapshot_id=.
// All filters are optional; when snapshot_id is omitted, the latest snapshot
// per (entity, metric, period) wins. Returns {"facts": [...]} ordered by
// (entity display name, period start).
func (s *Server) listFacts(w http.ResponseWriter, r *http.Request) {
	var q store.FactsQuery
	var err error
	if q.MetricID, err = queryUUID(r, "metric_id"); err != nil {
		s.fail(w, err)
		return
	}
	if q.EntityID, err = queryUUID(r, "entity_id"); err != nil {
		s.fail(w, err)
		return
	}
	if q.SnapshotID, err = queryUUID(r, "snapshot_id"); err != nil {
		s.fail(w, err)
		return
	}
	if q.From, err = queryDate(r, "from"); err != nil {
		s.fail(w, err)
		return
	}
	if q.To, err = queryDate(r, "to"); err != nil {
		s.fail(w, err)
		return
	}

	facts, err := s.store.Facts(r.Context(), q)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"facts": toFactDTOs(facts)})
}

// evidence handles GET /evidence?fact_id=. It walks the fact back through
// provenance to its source artifact and returns a download URL for the raw
// bytes: a presigned object-store URL when the backend supports one, the
// /raw/{artifact_id} route otherwise.
func (s *Server) evidence(w http.ResponseWriter, r *http.Request) {
	factID, err := requireUUID(r, "fact_id")
	if err != nil {
		s.fail(w, err)
		return
	}
	ev, err := s.store.FactEvidence(r.Context(), factID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evidenceDTO{
		Fact:        toFactDTO(ev.Fact),
		Artifact:    toArtifactDTO(ev.Artifact),
		Location:    ev.Location,
		Method:      ev.Method,
		DownloadURL: s.downloadURL(r.Context(), ev.Artifact),
	})
}

// downloadURL prefers a presigned object-store URL; backends without one
// fall back to the query service's own /raw route.
func (s *Server) downloadURL(ctx context.Context, a store.Artifact) string {
	url, err := s.blobs.Presign(ctx, a.StorageKind, a.StoragePath, s.cfg.PresignTTL())
	if err == nil {
		return url
	}
	if !eris.Is(err, blob.ErrPresignUnsupported) {
		s.log.Warn("presign failed, serving direct download",
			zap.String("artifact_id", a.ID.String()), zap.Error(err))
	}
	return "/raw/" + a.ID.String()
}

// downloadRaw handles GET /raw/{artifact_id}. It streams the stored blob
// byte-identical to the original fetch, verifying the recorded content hash
// before serving: diverged bytes are an integrity error, never served.
func (s *Server) downloadRaw(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "artifact_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		s.fail(w, faults.Newf(faults.KindBadRequest, "artifact id %q is not a UUID", raw))
		return
	}
	art, err := s.store.ArtifactByID(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	data, err := s.blobs.Get(r.Context(), art.StorageKind, art.StoragePath)
	if err != nil {
		s.fail(w, faults.Wrap(faults.KindStorage, err, "read artifact "+art.ID.String()))
		return
	}
	if err := (sha256.Hasher{}).Verify(data, art.ContentHash); err != nil {
		s.fail(w, faults.Wrap(faults.KindIntegrity, err, "artifact "+art.ID.String()+" stored bytes diverged"))
		return
	}

	w.Header().Set("Content-Type", art.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(art.StoragePath)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Warn("write raw artifact", zap.String("artifact_id", art.ID.String()), zap.Error(err))
	}
}

func toMetricDTOs(in []store.Metric) []metricDTO {
	out := make([]metricDTO, 0, len(in))
	for _, m := range in {
		out = append(out, metricDTO{
			MetricID:    m.ID.String(),
			MetricKey:   m.MetricKey,
			DisplayName: m.DisplayName,
			Unit:        m.Unit,
			Description: m.Description,
		})
	}
	return out
}

func toEntityDTOs(in []store.Entity) []entityDTO {
	out := make([]entityDTO, 0, len(in))
	for _, e := range in {
		out = append(out, entityDTO{
			EntityID:    e.ID.String(),
			NaturalKey:  e.NaturalKey,
			DisplayName: e.DisplayName,
			EntityType:  e.EntityType,
		})
	}
	return out
}

func toFactDTOs(in []store.FactRow) []factDTO {
	out := make([]factDTO, 0, len(in))
	for _, f := range in {
		out = append(out, toFactDTO(f))
	}
	return out
}

func toFactDTO(f store.FactRow) factDTO {
	return factDTO{
		FactID:      f.ID.String(),
		SnapshotID:  f.SnapshotID.String(),
		EntityID:    f.EntityID.String(),
		EntityKey:   f.EntityKey,
		EntityName:  f.EntityName,
		MetricID:    f.MetricID.String(),
		MetricKey:   f.MetricKey,
		MetricName:  f.MetricName,
		PeriodStart: f.PeriodStart.Format(dateLayout),
		PeriodEnd:   f.PeriodEnd.Format(dateLayout),
		ValueNum:    f.Value,
		Unit:        f.Unit,
		Dims:        rawDims(f.Dims),
	}
}

func toArtifactDTO(a store.Artifact) artifactDTO {
	return artifactDTO{
		ArtifactID:  a.ID.String(),
		SourceID:    a.SourceID,
		URL:         a.URL,
		CapturedAt:  a.CapturedAt,
		ContentHash: a.ContentHash,
		MIMEType:    a.MIMEType,
		SizeBytes:   a.SizeBytes,
	}
}

// rawDims guards against NULL jsonb so the response always carries an object.
func rawDims(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("{}")
	}
	return json.RawMessage(b)
}

type metricDTO struct {
	MetricID    string `json:"metric_id"`
	MetricKey   string `json:"metric_key"`
	DisplayName string `json:"display_name"`
	Unit        string `json:"unit"`
	Description string `json:"description,omitempty"`
}

type entityDTO struct {
	EntityID    string `json:"entity_id"`
	NaturalKey  string `json:"natural_key"`
	DisplayName string `json:"display_name"`
	EntityType  string `json:"entity_type"`
}

type factDTO struct {
	FactID      string          `json:"fact_id"`
	SnapshotID  string          `json:"snapshot_id"`
	EntityID    string          `json:"entity_id"`
	EntityKey   string          `json:"entity_key"`
	EntityName  string          `json:"entity_name"`
	MetricID    string          `json:"metric_id"`
	MetricKey   string          `json:"metric_key"`
	MetricName  string          `json:"metric_name"`
	PeriodStart string          `json:"period_start"`
	PeriodEnd   string          `json:"period_end"`
	ValueNum    float64         `json:"value_num"`
	Unit        string          `json:"unit"`
	Dims        json.RawMessage `json:"dims"`
}

type artifactDTO struct {
	ArtifactID  string    `json:"artifact_id"`
	SourceID    string    `json:"source_id"`
	URL         string    `json:"url"`
	CapturedAt  time.Time `json:"captured_at"`
	ContentHash string    `json:"content_hash"`
	MIMEType    string    `json:"mime_type"`
	SizeBytes   int64     `json:"size_bytes"`
}

type evidenceDTO struct {
	Fact        factDTO     `json:"fact"`
	Artifact    artifactDTO `json:"artifact"`
	Location    string      `json:"location"`
	Method      string      `json:"method"`
	DownloadURL string      `json:"download_url"`
}
