package conf

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Oudwins/clawd/internals/version"

	z "github.com/Oudwins/zog"
)

const FileName = "clawd.json"

type BackendDriver string

const (
	BackendDocker BackendDriver = "docker"
	BackendLocal  BackendDriver = "local"
)

func (b BackendDriver) String() string {
	return string(b)
}

var BackendDrivers = []BackendDriver{BackendDocker, BackendLocal}

type Config struct {
	Version   string          `json:"-"`
	DataDir   string          `json:"-"`
	Log       LogConfig       `json:"log" zog:"log"`
	Store     StoreConfig     `json:"store" zog:"store"`
	Scheduler SchedulerConfig `json:"scheduler" zog:"scheduler"`
	Backend   BackendConfig   `json:"backend" zog:"backend"`
	Agent     AgentConfig     `json:"agent" zog:"agent"`
	Server    ServerConfig    `json:"server" zog:"server"`
}

type LogConfig struct {
	Level string `json:"level" zog:"level"`
}

type StoreConfig struct {
	Path string `json:"path" zog:"path"`
}

type SchedulerConfig struct {
	TickInterval string `json:"tick_interval" zog:"tick_interval"`
}

type BackendConfig struct {
	Driver             BackendDriver `json:"driver" zog:"driver"`
	Name               string        `json:"name" zog:"name"`
	Image              string        `json:"image" zog:"image"`
	Runtime            string        `json:"runtime" zog:"runtime"`
	WorkspaceDir       string        `json:"workspace_dir" zog:"workspace_dir"`
	ContainerWorkspace string        `json:"container_workspace" zog:"container_workspace"`
	CredentialDirs     []string      `json:"credential_dirs" zog:"credential_dirs"`
	Identity           string        `json:"identity" zog:"identity"`
	HealthTimeout      string        `json:"health_timeout" zog:"health_timeout"`
	HealthInterval     string        `json:"health_interval" zog:"health_interval"`
	KeepAlive          []string      `json:"keep_alive" zog:"keep_alive"`
	ExecCommand        []string      `json:"exec_command" zog:"exec_command"`
	StderrNoise        []string      `json:"stderr_noise" zog:"stderr_noise"`
}

type AgentConfig struct {
	Binary        string   `json:"binary" zog:"binary"`
	Args          []string `json:"args" zog:"args"`
	DefaultTarget string   `json:"default_target" zog:"default_target"`
}

type ServerConfig struct {
	Addr string `json:"addr" zog:"addr"`
}

var identityRegex = regexp.MustCompile(`^[0-9]+(:[0-9]+)?$`)

var durationMessage = z.Message("must be a duration such as 200ms, 10s or 1m")

var ConfigSchema = z.Struct(z.Shape{
	"Log": z.Struct(z.Shape{
		"Level": z.String().Trim().Default("info").OneOf([]string{"debug", "info", "warn", "error"}),
	}),
	"Store": z.Struct(z.Shape{
		"Path": z.String().Optional().Trim().Transform(expandPathTransform),
	}),
	"Scheduler": z.Struct(z.Shape{
		"TickInterval": z.String().Trim().Default("60s").TestFunc(isPositiveDurationTest, durationMessage),
	}),
	"Backend": z.Struct(z.Shape{
		"Driver":             z.StringLike[BackendDriver]().Default(BackendDocker).OneOf(BackendDrivers),
		"Name":               z.String().Trim().Default("clawd-agent"),
		"Image":              z.String().Trim().Default("clawd-agent:latest"),
		"Runtime":            z.String().Trim().Default("docker"),
		"WorkspaceDir":       z.String().Optional().Trim().Transform(expandPathTransform),
		"ContainerWorkspace": z.String().Trim().Default("/workspace"),
		"CredentialDirs":     z.Slice(z.String().Trim()),
		"Identity":           z.String().Optional().Trim().Match(identityRegex, z.Message("identity must be uid or uid:gid")),
		"HealthTimeout":      z.String().Trim().Default("10s").TestFunc(isPositiveDurationTest, durationMessage),
		"HealthInterval":     z.String().Trim().Default("200ms").TestFunc(isPositiveDurationTest, durationMessage),
		"KeepAlive":          z.Slice(z.String()),
		"ExecCommand":        z.Slice(z.String()),
		"StderrNoise":        z.Slice(z.String()),
	}),
	"Agent": z.Struct(z.Shape{
		"Binary":        z.String().Trim().Default("gemini"),
		"Args":          z.Slice(z.String()),
		"DefaultTarget": z.String().Trim().Default("main"),
	}),
	"Server": z.Struct(z.Shape{
		"Addr": z.String().Trim().Default("127.0.0.1:57877"),
	}),
})

// Defaults returns the configuration used when no config file exists. Keys
// missing from a config file keep these values.
func Defaults(dataDir string) *Config {
	return &Config{
		Version: version.Version(),
		DataDir: dataDir,
		Log:     LogConfig{Level: "info"},
		Store:   StoreConfig{Path: filepath.Join(dataDir, "clawd.db")},
		Scheduler: SchedulerConfig{
			TickInterval: "60s",
		},
		Backend: BackendConfig{
			Driver:             BackendDocker,
			Name:               "clawd-agent",
			Image:              "clawd-agent:latest",
			Runtime:            "docker",
			WorkspaceDir:       filepath.Join(dataDir, "workspace"),
			ContainerWorkspace: "/workspace",
			CredentialDirs:     []string{"~/.gemini"},
			HealthTimeout:      "10s",
			HealthInterval:     "200ms",
			KeepAlive:          []string{"sleep", "infinity"},
			ExecCommand:        []string{"agent-runner"},
		},
		Agent: AgentConfig{
			Binary:        "gemini",
			Args:          []string{"-o", "stream-json", "--approval-mode", "yolo"},
			DefaultTarget: "main",
		},
		Server: ServerConfig{Addr: "127.0.0.1:57877"},
	}
}

// Load reads <dataDir>/clawd.json on top of Defaults and validates the
// result. A missing or empty file yields the defaults.
func Load(dataDir string) (*Config, error) {
	expanded, err := expandPath(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand data dir: %w", err)
	}
	dataDir = filepath.Clean(expanded)
	cfg := Defaults(dataDir)

	data, err := os.ReadFile(filepath.Join(dataDir, FileName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if strings.TrimSpace(string(data)) != "" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if issues := ConfigSchema.Validate(c); len(issues) > 0 {
		return fmt.Errorf("invalid config:\n%s", z.Issues.Prettify(issues))
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "clawd.db")
	}
	if c.Backend.WorkspaceDir == "" {
		c.Backend.WorkspaceDir = filepath.Join(c.DataDir, "workspace")
	}
	for i, dir := range c.Backend.CredentialDirs {
		expanded, err := expandPath(dir)
		if err != nil {
			return fmt.Errorf("failed to expand credential dir %q: %w", dir, err)
		}
		c.Backend.CredentialDirs[i] = expanded
	}
	c.Version = version.Version()
	return nil
}

func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "log.txt")
}

func (c SchedulerConfig) Tick() time.Duration {
	return durationOr(c.TickInterval, time.Minute)
}

func (c BackendConfig) HealthTimeoutDuration() time.Duration {
	return durationOr(c.HealthTimeout, 10*time.Second)
}

func (c BackendConfig) HealthIntervalDuration() time.Duration {
	return durationOr(c.HealthInterval, 200*time.Millisecond)
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func isPositiveDurationTest(valPtr *string, ctx z.Ctx) bool {
	d, err := time.ParseDuration(*valPtr)
	return err == nil && d > 0
}

func expandPathTransform(ptr *string, c z.Ctx) error {
	expanded, err := expandPath(*ptr)
	*ptr = expanded
	return err
}

func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

// ExpandPath resolves a leading "~" against the user's home directory.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}
