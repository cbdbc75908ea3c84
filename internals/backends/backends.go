package backends

import (
	"errors"
	"fmt"

	"github.com/Oudwins/clawd/internals/conf"
)

var (
	// ErrBackendUnreachable means the backend could not be created, started or
	// brought to a healthy state in time. No request was sent.
	ErrBackendUnreachable = errors.New("backend unreachable")
	// ErrTransport means the backend tooling could not be spawned or
	// connected to.
	ErrTransport = errors.New("backend transport error")
	// ErrApplicationFailure means the agent ran and exited non-zero with real
	// diagnostics.
	ErrApplicationFailure = errors.New("agent application failure")
)

var ErrUnknownBackend = errors.New("unknown backend")

type BackendState int

const (
	StateAbsent BackendState = iota
	StateStopped
	StateStarting
	StateReady
	StateUnreachable
)

func (s BackendState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateUnreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s BackendState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	HealthNone      = ""
	HealthStarting  = "starting"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// Observation is what a driver can see of the backend at one instant.
type Observation struct {
	Exists  bool   `json:"exists"`
	Running bool   `json:"running"`
	Health  string `json:"health,omitempty"`
}

// Classify maps a raw observation to a lifecycle state. A running backend
// without a health check counts as ready.
func Classify(obs Observation) BackendState {
	switch {
	case !obs.Exists:
		return StateAbsent
	case !obs.Running:
		return StateStopped
	case obs.Health == HealthNone || obs.Health == HealthHealthy:
		return StateReady
	default:
		return StateStarting
	}
}

type action int

const (
	actionProceed action = iota
	actionStart
	actionCreate
	actionWait
	actionFail
)

func (a action) String() string {
	switch a {
	case actionProceed:
		return "proceed"
	case actionStart:
		return "start"
	case actionCreate:
		return "create"
	case actionWait:
		return "wait"
	default:
		return "fail"
	}
}

func next(state BackendState) action {
	switch state {
	case StateReady:
		return actionProceed
	case StateStopped:
		return actionStart
	case StateAbsent:
		return actionCreate
	case StateStarting:
		return actionWait
	default:
		return actionFail
	}
}

// NewDriver builds the driver selected by cfg.Driver. env entries are
// KEY=VALUE pairs exported to the agent.
func NewDriver(cfg conf.BackendConfig, agent conf.AgentConfig, env ...string) (Driver, error) {
	switch cfg.Driver {
	case conf.BackendDocker, "":
		return NewDockerDriver(cfg, env...), nil
	case conf.BackendLocal:
		return NewLocalDriver(agent, cfg.WorkspaceDir, env...), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Driver)
	}
}
