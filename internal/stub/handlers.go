package stub

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/pipewatch/internal/model"
)

const maxRunBody = 64 * 1024

// ErrorResponse is returned on errors. The repository client reads Field
// from 400/422 responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Pipelines     int    `json:"pipelines"`
}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Pipelines:     len(s.scheduler.Pipelines()),
	})
}

// handleListPipelines handles GET /pipelines.
func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.scheduler.Pipelines())
}

// handleGetPipeline handles GET /pipelines/{pipelineID}.
func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := s.scheduler.Pipeline(chi.URLParam(r, "pipelineID"))
	if err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// handleListRuns handles GET /pipelines/{pipelineID}/triggers/{triggerID}/runs.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.scheduler.Runs(chi.URLParam(r, "pipelineID"), chi.URLParam(r, "triggerID"))
	if err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// handleRunTrigger handles POST /pipelines/{pipelineID}/triggers/{triggerID}/run.
// The body, if any, is the params object.
func (s *Server) handleRunTrigger(w http.ResponseWriter, r *http.Request) {
	pipelineID := chi.URLParam(r, "pipelineID")
	triggerID := chi.URLParam(r, "triggerID")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRunBody+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxRunBody {
		s.writeError(w, http.StatusRequestEntityTooLarge, "params too large")
		return
	}
	params := model.Params(body)
	if !params.Empty() && !json.Valid(body) {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body", Field: "params"})
		return
	}

	result, err := s.scheduler.StartRun(pipelineID, triggerID, params)
	if err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	s.logger.Info("run started", "pipeline_id", pipelineID, "trigger_id", triggerID, "run_id", result.RunID)
	respondJSON(w, http.StatusCreated, result)
}

// handleListLogs handles GET /pipelines/{pipelineID}/runs/{runID}/logs.
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(chi.URLParam(r, "runID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	logs, err := s.scheduler.Logs(chi.URLParam(r, "pipelineID"), runID)
	if err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (s *Server) writeSchedulerError(w http.ResponseWriter, err error) {
	var pe *ParamError
	switch {
	case errors.Is(err, ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &pe):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: pe.Message, Field: pe.Field})
	default:
		s.logger.Error("scheduler error", "error", err)
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("internal error: %v", err))
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
