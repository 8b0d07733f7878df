package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/estado-transparente/pipeline/internal/blob"
	"github.com/estado-transparente/pipeline/internal/config"
	"github.com/estado-transparente/pipeline/internal/faults"
	"github.com/estado-transparente/pipeline/internal/store"
	"github.com/estado-transparente/pipeline/internal/telemetry"
)

// dateLayout renders period bounds in query responses.
const dateLayout = "2006-01-02"

// Store is the read surface the query service needs from the canonical
// store. *store.Store satisfies it; tests substitute fixtures.
type Store interface {
	ListMetrics(ctx context.Context) ([]store.Metric, error)
	MetricByID(ctx context.Context, id uuid.UUID) (*store.Metric, error)
	MetricByKey(ctx context.Context, key string) (*store.Metric, error)
	SearchEntities(ctx context.Context, query string, limit int) ([]store.Entity, error)
	Facts(ctx context.Context, q store.FactsQuery) ([]store.FactRow, error)
	YearFacts(ctx context.Context, metricID uuid.UUID, year int, entityID *uuid.UUID) ([]store.YearFact, error)
	AvailableYears(ctx context.Context, metricID uuid.UUID) ([]int, error)
	FactEvidence(ctx context.Context, factID uuid.UUID) (*store.Evidence, error)
	ArtifactByID(ctx context.Context, id uuid.UUID) (*store.Artifact, error)
}

// Server wires HTTP handlers to the canonical store and the blob store.
type Server struct {
	router chi.Router
	store  Store
	blobs  blob.Store
	cfg    config.Config
	log    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(st Store, blobs blob.Store, cfg config.Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		store: st,
		blobs: blobs,
		cfg:   cfg,
		log:   log.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(cors.Handler(cors.Options{
		// Public, uncredentialed data: any origin may read.
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(timeoutMiddleware(cfg.QueryTimeout()))

	r.Get("/health", s.health)
	r.Get("/metrics", s.listMetrics)
	r.Get("/entities", s.searchEntities)
	r.Get("/facts", s.listFacts)
	r.Get("/compare", s.compare)
	r.Get("/evidence", s.evidence)
	r.Get("/dashboard", s.dashboard)
	r.Get("/raw/{artifact_id}", s.downloadRaw)
	r.Method(http.MethodGet, "/debug/metrics", telemetry.Handler())

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail renders err as a structured JSON error. Server-side failures are
// logged with their full chain; the client sees kind and message only.
func (s *Server) fail(w http.ResponseWriter, err error) {
	kind := faults.KindOf(err)
	if faults.HTTPStatus(kind) >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	writeError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := faults.KindOf(err)
	writeJSON(w, faults.HTTPStatus(kind), errorBody{
		Error:   string(kind),
		Message: faults.Message(err),
	})
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// queryUUID parses an optional UUID query parameter; absent means nil.
func queryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, faults.Newf(faults.KindBadRequest, "parameter %q is not a UUID", name)
	}
	return &id, nil
}

func requireUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := queryUUID(r, name)
	if err != nil {
		return uuid.Nil, err
	}
	if id == nil {
		return uuid.Nil, faults.Newf(faults.KindBadRequest, "parameter %q is required", name)
	}
	return *id, nil
}

// queryInt parses an optional integer query parameter; absent means nil.
func queryInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, faults.Newf(faults.KindBadRequest, "parameter %q is not an integer", name)
	}
	return &n, nil
}

func requireInt(r *http.Request, name string) (int, error) {
	n, err := queryInt(r, name)
	if err != nil {
		return 0, err
	}
	if n == nil {
		return 0, faults.Newf(faults.KindBadRequest, "parameter %q is required", name)
	}
	return *n, nil
}

// queryDate parses an optional ISO date (YYYY-MM-DD) query parameter.
func queryDate(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, faults.Newf(faults.KindBadRequest, "parameter %q is not a date (YYYY-MM-DD)", name)
	}
	return &t, nil
}
