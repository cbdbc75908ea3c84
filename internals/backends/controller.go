package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Oudwins/clawd/internals/conf"
	"github.com/Oudwins/clawd/internals/schemas"
	"github.com/Oudwins/clawd/internals/timeouts"
	"github.com/Oudwins/clawd/internals/transcript"
)

type Options struct {
	HealthTimeout  time.Duration
	HealthInterval time.Duration
	StderrNoise    []string
	Logger         *slog.Logger
}

// Controller owns the single execution backend. Every invocation brings the
// backend to Ready before a request is sent, and invocations never overlap.
type Controller struct {
	mu             sync.Mutex
	driver         Driver
	noise          NoiseFilter
	healthTimeout  time.Duration
	healthInterval time.Duration
	logger         *slog.Logger
}

func NewController(driver Driver, opts Options) *Controller {
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = timeouts.HealthTimeout
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = timeouts.HealthPoll
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		driver:         driver,
		noise:          NewNoiseFilter(opts.StderrNoise),
		healthTimeout:  opts.HealthTimeout,
		healthInterval: opts.HealthInterval,
		logger:         opts.Logger.With(slog.String("backend", driver.Name())),
	}
}

func NewControllerFromConfig(cfg *conf.Config, logger *slog.Logger, env ...string) (*Controller, error) {
	driver, err := NewDriver(cfg.Backend, cfg.Agent, env...)
	if err != nil {
		return nil, err
	}
	return NewController(driver, Options{
		HealthTimeout:  cfg.Backend.HealthTimeoutDuration(),
		HealthInterval: cfg.Backend.HealthIntervalDuration(),
		StderrNoise:    cfg.Backend.StderrNoise,
		Logger:         logger,
	}), nil
}

type Status struct {
	Name        string       `json:"name"`
	State       BackendState `json:"state"`
	Observation Observation  `json:"observation"`
}

// Status inspects the backend without acting on what it sees.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	obs, err := c.driver.Inspect(ctx)
	if err != nil {
		return Status{Name: c.driver.Name(), State: StateUnreachable}, err
	}
	return Status{Name: c.driver.Name(), State: Classify(obs), Observation: obs}, nil
}

// EnsureReady provisions the backend if needed and reports the state it
// ended in.
func (c *Controller) EnsureReady(ctx context.Context) (BackendState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureReady(ctx); err != nil {
		return StateUnreachable, err
	}
	return StateReady, nil
}

func (c *Controller) ensureReady(ctx context.Context) error {
	obs, err := c.driver.Inspect(ctx)
	if err != nil {
		return err
	}
	state := Classify(obs)
	act := next(state)
	c.logger.Debug("backend inspected", slog.String("state", state.String()), slog.String("action", act.String()))

	switch act {
	case actionProceed:
		return nil
	case actionStart:
		c.logger.Info("starting backend")
		if err := c.driver.Start(ctx); err != nil {
			return err
		}
	case actionCreate:
		c.logger.Info("creating backend")
		if err := c.driver.Create(ctx); err != nil {
			return err
		}
	case actionWait:
	default:
		return fmt.Errorf("%w: unexpected state %s", ErrBackendUnreachable, state)
	}
	return c.waitReady(ctx)
}

// waitReady polls the backend from the Starting state until it is Ready or
// the health timeout elapses.
func (c *Controller) waitReady(ctx context.Context) error {
	deadline := time.NewTimer(c.healthTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			c.logger.Error("backend did not become healthy", slog.Duration("timeout", c.healthTimeout))
			return fmt.Errorf("%w: %s not healthy after %s", ErrBackendUnreachable, c.driver.Name(), c.healthTimeout)
		case <-ticker.C:
			obs, err := c.driver.Inspect(ctx)
			if err != nil {
				return err
			}
			if Classify(obs) == StateReady {
				c.logger.Info("backend ready")
				return nil
			}
		}
	}
}

// Execute sends req to the backend and decodes its transcript. The returned
// result is always non-nil and describes any failure; the error carries the
// failure class for callers that branch on it.
func (c *Controller) Execute(ctx context.Context, req schemas.ExecutionRequest) (*schemas.ExecutionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	logger := c.logger.With(slog.String("correlation_id", req.CorrelationID), slog.String("target", req.TargetContext))

	result, err := c.execute(ctx, logger, req)
	result.CorrelationID = req.CorrelationID
	if err != nil {
		logger.Error("execution failed", slog.String("error", err.Error()), slog.Duration("duration", time.Since(start)))
		return result, err
	}
	logger.Info("execution finished", slog.Duration("duration", time.Since(start)))
	return result, nil
}

func (c *Controller) execute(ctx context.Context, logger *slog.Logger, req schemas.ExecutionRequest) (*schemas.ExecutionResult, error) {
	if err := c.ensureReady(ctx); err != nil {
		return schemas.Failure(err.Error()), err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return schemas.Failure(err.Error()), fmt.Errorf("%w: encode request: %w", ErrTransport, err)
	}

	// The agent is never killed mid-run, even on shutdown.
	out, err := c.driver.Exec(context.WithoutCancel(ctx), req.TargetContext, req.Prompt, payload)
	if err != nil {
		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return schemas.Failure(err.Error()), err
	}

	if len(out.Stderr) > 0 {
		level := slog.LevelDebug
		if out.ExitCode != 0 {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "agent stderr", slog.Int("exit_code", out.ExitCode), slog.String("stderr", string(out.Stderr)))
	}
	filtered := c.noise.Filter(string(out.Stderr))
	if out.ExitCode != 0 && filtered != "" {
		message := fmt.Sprintf("exit code %d: %s", out.ExitCode, filtered)
		return schemas.Failure(message), fmt.Errorf("%w: %s", ErrApplicationFailure, message)
	}

	text, err := transcript.Decode(bytes.NewReader(out.Stdout))
	if err != nil {
		return schemas.Failure(err.Error()), fmt.Errorf("%w: read agent output: %w", ErrTransport, err)
	}
	return schemas.Success(text), nil
}
