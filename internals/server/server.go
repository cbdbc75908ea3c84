package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/Oudwins/clawd/internals/backends"
	"github.com/Oudwins/clawd/internals/conf"
	"github.com/Oudwins/clawd/internals/core"
	"github.com/Oudwins/clawd/internals/logbuf"
	"github.com/Oudwins/clawd/internals/schemas"
	"github.com/Oudwins/clawd/internals/tasks"
	"github.com/Oudwins/clawd/internals/timeouts"
)

type Backend interface {
	Execute(ctx context.Context, req schemas.ExecutionRequest) (*schemas.ExecutionResult, error)
	Status(ctx context.Context) (backends.Status, error)
}

type Server struct {
	Config     *conf.Config
	Logger     *slog.Logger
	Events     *logbuf.Event
	Tasks      *tasks.Manager
	Backend    Backend
	httpServer *http.Server
}

func New(base *core.BaseServer) *Server {
	events := logbuf.New(
		slog.String("version", base.Config.Version),
		slog.String("addr", base.Config.Server.Addr),
	)
	return &Server{
		Config:  base.Config,
		Logger:  base.Logger,
		Events:  events,
		Tasks:   tasks.NewManager(base.Store, base.Logger),
		Backend: base.Controller,
	}
}

// Start serves the API on the configured address until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Config.Server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: timeouts.SecondDefault,
	}
	s.httpServer = server

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	s.Logger.Info("http api listening", slog.String("addr", listener.Addr().String()))
	err := server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.ShutdownGrace)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.Logger.Error("shutdown failed", slog.String("error", err.Error()))
	}
}
