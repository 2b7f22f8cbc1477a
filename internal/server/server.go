package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gyrelabs/gyre/internal/metrics"
	"github.com/gyrelabs/gyre/internal/pipeline"
	"github.com/gyrelabs/gyre/internal/repair"
	"github.com/gyrelabs/gyre/internal/spiral"
	"github.com/gyrelabs/gyre/internal/store"
)

// Server is the gyre HTTP API server.
type Server struct {
	db       *store.DB
	index    *spiral.Index
	pipe     *pipeline.Pipeline
	repairer *repair.Engine
	m        *metrics.Metrics

	router       chi.Router
	version      string
	metricsToken string
	started      time.Time
}

// New creates a new Server wired to the given components. metricsToken
// gates GET /metrics; empty means open.
func New(db *store.DB, index *spiral.Index, pipe *pipeline.Pipeline, repairer *repair.Engine, m *metrics.Metrics, version, metricsToken string) *Server {
	s := &Server{
		db:           db,
		index:        index,
		pipe:         pipe,
		repairer:     repairer,
		m:            m,
		version:      version,
		metricsToken: metricsToken,
		started:      time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/jobs", s.handleSubmitJob)
		r.Get("/jobs/{jobID}", s.handleGetJob)

		r.Get("/spirals", s.handleListSpirals)
		r.Get("/spirals/{spiralType}", s.handleGetSpiral)

		r.Post("/repair", s.handleRepair)
	})

	r.Method("GET", "/metrics", s.m.Handler(s.metricsToken))

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}
