package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Oudwins/clawd/internals/schemas"
	"github.com/Oudwins/clawd/internals/store"
	"github.com/Oudwins/clawd/internals/tasks"
	"github.com/go-chi/chi/v5"
)

const defaultRunsLimit = 20

func (s *Server) HandlerListTasks(w http.ResponseWriter, r *http.Request) {
	list, err := s.Tasks.List(r.Context())
	if err != nil {
		s.renderTaskError(w, r, err)
		return
	}
	RenderJSON(w, r, list)
}

func (s *Server) HandlerCreateTask(w http.ResponseWriter, r *http.Request) {
	var reqbody schemas.TaskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&reqbody); err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInvalidJson, "Invalid JSON", nil), Render.Status(http.StatusBadRequest))
		return
	}
	reqbody.Target = s.targetOrDefault(reqbody.Target)
	task, err := s.Tasks.Create(r.Context(), reqbody)
	if err != nil {
		s.renderTaskError(w, r, err)
		return
	}
	RenderJSON(w, r, task, Render.Status(http.StatusCreated))
}

func (s *Server) HandlerGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.Tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.renderTaskError(w, r, err)
		return
	}
	RenderJSON(w, r, task)
}

func (s *Server) HandlerPauseTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.Tasks.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.renderTaskError(w, r, err)
		return
	}
	RenderJSON(w, r, task)
}

func (s *Server) HandlerResumeTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.Tasks.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.renderTaskError(w, r, err)
		return
	}
	RenderJSON(w, r, task)
}

func (s *Server) HandlerDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.Tasks.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.renderTaskError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandlerTaskRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeValidationFailed, "limit must be a non-negative integer", nil), Render.Status(http.StatusBadRequest))
			return
		}
		limit = parsed
	}
	runs, err := s.Tasks.Runs(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.renderTaskError(w, r, err)
		return
	}
	RenderJSON(w, r, runs)
}

func (s *Server) renderTaskError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *tasks.ValidationError
	switch {
	case errors.As(err, &validation):
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeValidationFailed, "Schema validation failed", validation.Fields), Render.Status(http.StatusBadRequest))
	case errors.Is(err, store.ErrTaskNotFound):
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "task not found", nil), Render.Status(http.StatusNotFound))
	case errors.Is(err, tasks.ErrTaskExists):
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeConflict, err.Error(), nil), Render.Status(http.StatusConflict))
	default:
		logRequest(r, "task request failed", slog.String("error", err.Error()))
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInternal, "Failed to process task request", nil), Render.Status(http.StatusInternalServerError))
	}
}
