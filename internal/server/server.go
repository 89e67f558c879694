package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/EmpoweredVote/discovery-summary/internal/middleware"
	"github.com/EmpoweredVote/discovery-summary/internal/refresh"
	"github.com/EmpoweredVote/discovery-summary/internal/store"
	"github.com/EmpoweredVote/discovery-summary/internal/summary"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SummaryStore is the read side of the PostGIS store.
type SummaryStore interface {
	ListSummary(ctx context.Context, geoType summary.GeoType) ([]summary.SummaryRow, error)
	FindBoundariesByPoint(ctx context.Context, lat, lng float64) (store.PointMatch, error)
	ListRuns(ctx context.Context, limit int) ([]store.RefreshRun, error)
}

// Server exposes the published summary and the refresh admin API.
type Server struct {
	jobs           *refresh.Jobs
	store          SummaryStore
	adminTokenHash string
	gatherer       prometheus.Gatherer
	origins        []string
}

// New creates a Server. st may be nil when no database is configured; the
// routes that need it then answer 503.
func New(jobs *refresh.Jobs, st SummaryStore, adminTokenHash string, gatherer prometheus.Gatherer) *Server {
	return &Server{
		jobs:           jobs,
		store:          st,
		adminTokenHash: adminTokenHash,
		gatherer:       gatherer,
		origins:        middleware.DefaultOrigins,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORSMiddleware(s.origins))

	r.Get("/", rootHandler)
	r.Get("/summary", s.getSummary)
	r.Get("/locate", s.locate)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AdminTokenMiddleware(s.adminTokenHash))
		r.Post("/refresh", s.startRefresh)
		r.Get("/refresh", s.listJobs)
		r.Get("/refresh/{jobID}", s.getJob)
		r.Get("/runs", s.listRuns)
	})
	return r
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "Server is up!")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
