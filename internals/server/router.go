package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.MiddlewareLogger)
	r.Get("/version", s.HandlerVersion)
	r.Get("/backend", s.HandlerBackendStatus)
	r.Post("/run", s.HandlerRun)
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.HandlerListTasks)
		r.Post("/", s.HandlerCreateTask)
		r.Get("/{id}", s.HandlerGetTask)
		r.Delete("/{id}", s.HandlerDeleteTask)
		r.Post("/{id}/pause", s.HandlerPauseTask)
		r.Post("/{id}/resume", s.HandlerResumeTask)
		r.Get("/{id}/runs", s.HandlerTaskRuns)
	})
	return r
}
