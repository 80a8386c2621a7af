// Package server is the HTTP boundary of the deployment tracking service.
// It translates requests into coordinator calls and artifact store reads,
// and maps state machine guard violations onto HTTP status codes.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/daangn/websites-integration/artifact"
	"github.com/daangn/websites-integration/coordinator"
	"github.com/daangn/websites-integration/deployment"
	"github.com/daangn/websites-integration/store"
)

// Server holds the boundary's collaborators.
type Server struct {
	registry  *coordinator.Registry
	artifacts artifact.Store
	auth      *adminKeyAuth
	logger    *slog.Logger
}

// New creates a Server. adminKeys are the accepted AdminKey tokens for
// mutating endpoints.
func New(registry *coordinator.Registry, artifacts artifact.Store, adminKeys []string, logger *slog.Logger) *Server {
	return &Server{
		registry:  registry,
		artifacts: artifacts,
		auth:      newAdminKeyAuth(adminKeys),
		logger:    logger,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/deployments", func(r chi.Router) {
		r.With(s.auth.require).Post("/", s.handleStart)
		r.Get("/{id}", s.handleCheck)
		r.Get("/{id}/check", s.handleCheck)
		r.With(s.auth.require).Post("/{id}/run", s.handleReportRun)
		r.With(s.auth.require).Post("/{id}/outcome", s.handleReportOutcome)
		r.Get("/{id}/download-artifact", s.handleDownloadArtifact)
	})

	return r
}

type startRequest struct {
	WorkflowID string `json:"workflow_id"`
	Ref        string `json:"ref"`
	CommitSHA  string `json:"commit_sha"`
}

type startResponse struct {
	ID          string           `json:"id"`
	State       deployment.State `json:"state"`
	CheckURL    string           `json:"check_url"`
	ArtifactURL string           `json:"artifact_url"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "Invalid request body"})
		return
	}

	c := s.registry.Create()
	res, err := c.Start(r.Context(), coordinator.StartParams{
		WorkflowID: req.WorkflowID,
		Ref:        req.Ref,
		CommitSHA:  req.CommitSHA,
	})
	if err != nil {
		s.writeTransitionError(w, r, c, err)
		return
	}

	s.logger.Info("deployment started",
		"id", c.ID(), "workflow_id", req.WorkflowID, "ref", req.Ref, "commit_sha", req.CommitSHA)

	writeJSON(w, http.StatusCreated, startResponse{
		ID:          c.ID(),
		State:       res.State,
		CheckURL:    res.CheckURL,
		ArtifactURL: res.ArtifactURL,
	})
}

type stateResponse struct {
	ID    string           `json:"id"`
	State deployment.State `json:"state"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	c, ok := s.resolve(w, r)
	if !ok {
		return
	}

	state, err := c.CurrentState(r.Context())
	if err != nil {
		s.logger.Error("failed to get deployment state", "id", c.ID(), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{ID: c.ID(), Message: "Failed to get state"})
		return
	}

	writeJSON(w, http.StatusOK, stateResponse{ID: c.ID(), State: state})
}

type reportRunRequest struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleReportRun(w http.ResponseWriter, r *http.Request) {
	c, ok := s.resolve(w, r)
	if !ok {
		return
	}

	var req reportRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{ID: c.ID(), Message: "Invalid request body"})
		return
	}

	state, err := c.ReportRun(r.Context(), req.RunID)
	if err != nil {
		s.writeTransitionError(w, r, c, err)
		return
	}

	writeJSON(w, http.StatusOK, stateResponse{ID: c.ID(), State: state})
}

type reportOutcomeRequest struct {
	RunID        string `json:"run_id"`
	Status       string `json:"status"`
	ArtifactName string `json:"artifact_name"`
}

func (s *Server) handleReportOutcome(w http.ResponseWriter, r *http.Request) {
	c, ok := s.resolve(w, r)
	if !ok {
		return
	}

	var req reportOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{ID: c.ID(), Message: "Invalid request body"})
		return
	}

	state, err := c.ReportOutcome(r.Context(), coordinator.OutcomeParams{
		RunID:        req.RunID,
		Status:       deployment.Status(req.Status),
		ArtifactName: req.ArtifactName,
	})
	if err != nil {
		s.writeTransitionError(w, r, c, err)
		return
	}

	s.logger.Info("deployment outcome reported",
		"id", c.ID(), "run_id", state.RunID, "status", state.Status)

	writeJSON(w, http.StatusOK, stateResponse{ID: c.ID(), State: state})
}

func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	c, ok := s.resolve(w, r)
	if !ok {
		return
	}

	state, err := c.CurrentState(r.Context())
	if err != nil {
		s.logger.Error("failed to get deployment state", "id", c.ID(), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{ID: c.ID(), Message: "Failed to get state"})
		return
	}

	if state.Type != deployment.TypeDone || state.ArtifactName == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{
			ID:      c.ID(),
			Message: "Couldn't download artifact for the deployment",
			State:   &state,
		})
		return
	}

	obj, err := s.artifacts.Get(r.Context(), state.ArtifactName)
	if errors.Is(err, artifact.ErrNotFound) {
		writeJSON(w, http.StatusGone, errorBody{
			ID:      c.ID(),
			Message: "Artifact seems to be expired",
			State:   &state,
		})
		return
	}
	if err != nil {
		s.logger.Error("failed to fetch artifact", "id", c.ID(), "key", state.ArtifactName, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{ID: c.ID(), Message: "Failed to fetch artifact"})
		return
	}
	defer obj.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("ETag", `"`+obj.ETag+`"`)

	if _, err := io.Copy(w, obj.Body); err != nil {
		// Headers are already out; all we can do is log.
		s.logger.Error("failed to stream artifact", "id", c.ID(), "key", state.ArtifactName, "error", err)
	}
}

// resolve parses and resolves the {id} route parameter into a live
// coordinator, writing the error response itself when that fails.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (*coordinator.Coordinator, bool) {
	raw := chi.URLParam(r, "id")

	id, err := coordinator.ParseID(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{ID: raw, Message: "Invalid ID format"})
		return nil, false
	}

	c, err := s.registry.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{ID: id, Message: "Not found"})
		return nil, false
	}
	if err != nil {
		s.logger.Error("failed to resolve deployment", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{ID: id, Message: "Failed to get state"})
		return nil, false
	}

	return c, true
}

// writeTransitionError maps coordinator errors onto HTTP responses. Guard
// violations carry the current state so callers can tell what they raced
// against; invariant violations and storage failures are logged with
// detail and reduced to a generic message.
func (s *Server) writeTransitionError(w http.ResponseWriter, r *http.Request, c *coordinator.Coordinator, err error) {
	switch {
	case errors.Is(err, deployment.ErrAlreadyRunning), errors.Is(err, deployment.ErrAlreadyCompleted):
		body := errorBody{ID: c.ID(), Message: err.Error()}
		if state, stateErr := c.CurrentState(r.Context()); stateErr == nil {
			body.State = &state
		}
		writeJSON(w, http.StatusConflict, body)
	case errors.Is(err, deployment.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorBody{ID: c.ID(), Message: err.Error()})
	case errors.Is(err, deployment.ErrNoActiveRun):
		s.logger.Error("deployment invariant violated", "id", c.ID(), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{ID: c.ID(), Message: "Deployment is in an invalid state"})
	default:
		s.logger.Error("deployment operation failed", "id", c.ID(), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{ID: c.ID(), Message: "Internal error"})
	}
}

// errorBody is the JSON error payload shared by all endpoints.
type errorBody struct {
	ID      string            `json:"id,omitempty"`
	Message string            `json:"message"`
	State   *deployment.State `json:"state,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
