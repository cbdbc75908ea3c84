// Package core wires configuration, logging, the task store and the backend
// controller into the process-wide dependencies every command needs.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Oudwins/clawd/internals/backends"
	"github.com/Oudwins/clawd/internals/conf"
	"github.com/Oudwins/clawd/internals/env"
	"github.com/Oudwins/clawd/internals/scheduler"
	"github.com/Oudwins/clawd/internals/store"
	"github.com/Oudwins/clawd/internals/worker"
)

// GeminiAPIKey is the key/value entry holding the agent's API key.
const GeminiAPIKey = "gemini_api_key"

type Options struct {
	// Console receives human-readable logs. Nil means stderr.
	Console io.Writer
	// DataDir overrides CLAWD_DATA_DIR.
	DataDir string
}

type BaseServer struct {
	Config     *conf.Config
	Env        *env.EnvStruct
	Logger     *slog.Logger
	Store      *store.Store
	Controller *backends.Controller

	logFile *os.File
}

func New(ctx context.Context, opts Options) (*BaseServer, error) {
	environment, err := env.Get()
	if err != nil {
		return nil, err
	}
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = environment.DATA_DIR
	}
	config, err := conf.Load(dataDir)
	if err != nil {
		return nil, err
	}
	if environment.LOG_LEVEL != "" {
		config.Log.Level = environment.LOG_LEVEL
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	logger, logFile, err := InitLogger(config.LogPath(), ParseLevel(config.Log.Level), console)
	if err != nil {
		return nil, err
	}

	base := &BaseServer{Config: config, Env: environment, Logger: logger, logFile: logFile}
	base.Store, err = store.Open(ctx, config.Store.Path)
	if err != nil {
		_ = base.Close()
		return nil, err
	}

	agentEnv, err := base.agentEnv(ctx)
	if err != nil {
		_ = base.Close()
		return nil, err
	}
	base.Controller, err = backends.NewControllerFromConfig(config, logger, agentEnv...)
	if err != nil {
		_ = base.Close()
		return nil, err
	}

	logger.Debug("core initialized",
		slog.String("version", config.Version),
		slog.String("data_dir", config.DataDir),
		slog.String("backend", string(config.Backend.Driver)),
	)
	return base, nil
}

// agentEnv prefers GEMINI_API_KEY from the environment over the key saved by
// setup.
func (b *BaseServer) agentEnv(ctx context.Context) ([]string, error) {
	key := b.Env.GEMINI_API_KEY
	if key == "" {
		stored, ok, err := b.Store.GetValue(ctx, GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		if ok {
			key = stored
		}
	}
	if key == "" {
		return nil, nil
	}
	return []string{"GEMINI_API_KEY=" + key}, nil
}

func (b *BaseServer) Scheduler() *scheduler.Scheduler {
	return scheduler.New(b.Store, b.Controller, scheduler.Options{
		Interval: b.Config.Scheduler.Tick(),
		Logger:   b.Logger,
	})
}

func (b *BaseServer) Worker() *worker.Worker {
	return worker.New(b.Controller, b.Logger)
}

func (b *BaseServer) Close() error {
	var errs []error
	if b.Store != nil {
		errs = append(errs, b.Store.Close())
	}
	if b.logFile != nil {
		errs = append(errs, b.logFile.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close: %w", err)
	}
	return nil
}
