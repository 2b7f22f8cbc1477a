package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gyrelabs/gyre/internal/admission"
	"github.com/gyrelabs/gyre/internal/lock"
	"github.com/gyrelabs/gyre/internal/pipeline"
	"github.com/gyrelabs/gyre/internal/spiral"
)

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TraceID string           `json:"trace_id"`
		Payload pipeline.Payload `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	job, err := s.pipe.Submit(req.Payload, req.TraceID)
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, admission.ErrMemoryPressure), errors.Is(err, pipeline.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	default:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, ok := s.pipe.Job(jobID)
	if !ok {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (s *Server) handleListSpirals(w http.ResponseWriter, r *http.Request) {
	stats, err := s.index.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if stats == nil {
		stats = []spiral.Statistics{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count":   len(stats),
		"spirals": stats,
	})
}

func (s *Server) handleGetSpiral(w http.ResponseWriter, r *http.Request) {
	spiralType := chi.URLParam(r, "spiralType")
	if !spiral.ValidType(spiralType) {
		http.Error(w, `{"error":"unknown spiral type"}`, http.StatusBadRequest)
		return
	}

	stats, err := s.index.GetStatistics(spiralType)
	switch {
	case err == nil:
	case errors.Is(err, spiral.ErrNotFound):
		http.Error(w, `{"error":"no statistics for spiral"}`, http.StatusNotFound)
		return
	default:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRepair runs a rebuild inline and returns the full report.
// Concurrent requests share one run, so hammering this endpoint cannot
// stack scans.
func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	report, err := s.repairer.Rebuild(r.Context())
	switch {
	case err == nil:
	case errors.Is(err, lock.ErrLockUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	default:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
