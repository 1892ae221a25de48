package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// handleStartImport handles POST /api/imports - Start an import job
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	var cfg models.ImportConfig
	if r.ContentLength != 0 {
		if err := parseJSONBody(r, &cfg); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
	}

	result, err := s.importService.StartImport(r.Context(), cfg)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobId":   result.JobID,
		"status":  result.Status,
		"sources": result.Sources,
	})
}

// handleListImports handles GET /api/imports - List jobs, newest first
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	status := types.JobStatus(query.Get("status"))
	switch status {
	case "", types.JobStatusQueued, types.JobStatusProcessing, types.JobStatusCompleted, types.JobStatusError:
	default:
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid status (must be queued, processing, completed or error)", nil)
		return
	}

	limit := defaultListLimit
	if raw := query.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	jobs, err := s.importService.ListJobs(r.Context(), status, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*models.ImportJob{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetImport handles GET /api/imports/{id} - Poll a job
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := s.importService.GetJobStatus(r.Context(), jobID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// handleCancelImport handles POST /api/imports/{id}/cancel
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	result, err := s.importService.Cancel(r.Context(), jobID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	respondJSON(w, status, result)
}

// handleListDuplicates handles GET /api/imports/{id}/duplicates
func (s *Server) handleListDuplicates(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	// 404 for unknown jobs rather than an empty list
	if _, err := s.importService.GetJobStatus(r.Context(), jobID); err != nil {
		respondServiceError(w, r, err)
		return
	}

	records, err := s.duplicates.ListByJob(r.Context(), jobID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []*models.DuplicateRecord{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":      jobID,
		"duplicates": records,
		"count":      len(records),
	})
}

// handleGetTrail handles GET /api/trails/{id}
func (s *Server) handleGetTrail(w http.ResponseWriter, r *http.Request) {
	trail, err := s.trails.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, trail)
}

// handleCountTrails handles GET /api/trails/count?source=&difficulty=&jobId=
func (s *Server) handleCountTrails(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.TrailFilter{
		Source:     types.SourceType(query.Get("source")),
		Difficulty: types.Difficulty(query.Get("difficulty")),
		JobID:      query.Get("jobId"),
	}

	if filter.Source != "" && !filter.Source.IsValid() {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Unknown source", map[string]interface{}{
			"source": filter.Source,
		})
		return
	}
	if filter.Difficulty != "" && !filter.Difficulty.IsValid() {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid difficulty (must be easy, moderate, hard or expert)", nil)
		return
	}

	count, err := s.trails.Count(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  count,
		"filter": filter,
	})
}

// handleListSources handles GET /api/sources
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	enabled := s.sources.Types()
	active := make(map[types.SourceType]bool, len(enabled))
	for _, src := range enabled {
		active[src] = true
	}

	type sourceInfo struct {
		Source  types.SourceType `json:"source"`
		Enabled bool             `json:"enabled"`
	}
	out := make([]sourceInfo, 0, len(types.AllSources))
	for _, src := range types.AllSources {
		out = append(out, sourceInfo{Source: src, Enabled: active[src]})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sources": out,
	})
}
