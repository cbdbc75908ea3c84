package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Oudwins/clawd/internals/backends"
	"github.com/Oudwins/clawd/internals/logbuf"
	"github.com/Oudwins/clawd/internals/schemas"
	"github.com/Oudwins/clawd/internals/version"

	z "github.com/Oudwins/zog"
)

func (s *Server) HandlerVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(version.Version()))
}

func (s *Server) HandlerBackendStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.Backend.Status(r.Context())
	if err != nil {
		logRequest(r, "backend inspect failed", slog.String("error", err.Error()))
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeBackendUnreachable, err.Error(), nil), Render.Status(http.StatusServiceUnavailable))
		return
	}
	RenderJSON(w, r, status)
}

// HandlerRun executes a prompt synchronously. The body is always an
// ExecutionResult; the status code reflects the failure class.
func (s *Server) HandlerRun(w http.ResponseWriter, r *http.Request) {
	var reqbody schemas.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&reqbody); err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInvalidJson, "Invalid JSON", nil), Render.Status(http.StatusBadRequest))
		return
	}
	reqbody.Target = s.targetOrDefault(reqbody.Target)
	if issues := schemas.RunRequestSchema.Validate(&reqbody); len(issues) > 0 {
		payload := JsonResponseError(JsonResponseErrorCodeValidationFailed, "Schema validation failed", z.Issues.Flatten(issues))
		RenderJSON(w, r, payload, Render.Status(http.StatusBadRequest))
		return
	}

	req := schemas.NewInteractiveRequest(reqbody.Prompt, reqbody.Target, true)
	logRequest(r, "run", slog.String("correlation_id", req.CorrelationID), slog.String("target", req.TargetContext))
	result, err := s.Backend.Execute(r.Context(), req)
	if result == nil {
		result = schemas.Failure("no result")
	}
	if err != nil {
		logRequest(r, "run failed", slog.String("error", err.Error()))
		RenderJSON(w, r, result, Render.Status(runErrorStatus(err)))
		return
	}
	RenderJSON(w, r, result)
}

func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, backends.ErrBackendUnreachable):
		return http.StatusServiceUnavailable
	case errors.Is(err, backends.ErrApplicationFailure), errors.Is(err, backends.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func logRequest(r *http.Request, message string, attrs ...slog.Attr) {
	if event := logbuf.FromContext(r.Context()); event != nil {
		event.Info(message, attrs...)
	}
}

// targetOrDefault applies agent.default_target to requests that name no
// target.
func (s *Server) targetOrDefault(target string) string {
	if strings.TrimSpace(target) == "" && s.Config != nil {
		return s.Config.Agent.DefaultTarget
	}
	return target
}
