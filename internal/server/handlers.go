package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"

	"github.com/EmpoweredVote/discovery-summary/internal/logger"
	"github.com/EmpoweredVote/discovery-summary/internal/refresh"
	"github.com/EmpoweredVote/discovery-summary/internal/store"
	"github.com/EmpoweredVote/discovery-summary/internal/summary"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// storeError answers the error of a store call.
func storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotInitialized) {
		http.Error(w, "Summary store is not initialized", http.StatusServiceUnavailable)
		return
	}
	logger.Component("server").WithError(err).Error("store query failed")
	http.Error(w, "Internal error", http.StatusInternalServerError)
}

// getSummary handles GET /summary?geo_type=County
func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "No summary store configured", http.StatusServiceUnavailable)
		return
	}

	geoType := summary.GeoType(r.URL.Query().Get("geo_type"))
	if geoType != "" && !slices.Contains(summary.AllGeoTypes, geoType) {
		http.Error(w, "Unknown geo_type", http.StatusBadRequest)
		return
	}

	rows, err := s.store.ListSummary(r.Context(), geoType)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// locate handles GET /locate?lat=47.6&lng=-122.3
func (s *Server) locate(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "No summary store configured", http.StatusServiceUnavailable)
		return
	}

	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if errLat != nil || errLng != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		http.Error(w, "lat and lng must be valid WGS84 coordinates", http.StatusBadRequest)
		return
	}

	m, err := s.store.FindBoundariesByPoint(r.Context(), lat, lng)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// startRefresh handles POST /admin/refresh
// Accepts an optional body {"dry_run": true}
func (s *Server) startRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DryRun bool `json:"dry_run"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	job, err := s.jobs.Start(body.DryRun)
	if errors.Is(err, refresh.ErrRunInProgress) {
		w.Header().Set("Retry-After", "60")
		http.Error(w, "A refresh is already running", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID.String(),
		"status": job.Status,
	})
}

// listJobs handles GET /admin/refresh
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.List())
}

// getJob handles GET /admin/refresh/{jobID}
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		http.Error(w, "Invalid job ID", http.StatusBadRequest)
		return
	}
	job, ok := s.jobs.Get(id)
	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// listRuns handles GET /admin/runs?limit=20
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "No summary store configured", http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
