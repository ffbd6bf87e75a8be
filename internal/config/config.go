// ABOUTME: Configuration loading for the specula controller and agent.
// ABOUTME: YAML files with ${VAR} environment expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Pedro-Porto/specula/internal/cmds"
	"github.com/Pedro-Porto/specula/internal/wire"
)

// Config is the complete specula configuration. One file serves both
// binaries; each reads its own section.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Agent      AgentConfig      `yaml:"agent"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ControllerConfig holds the server-side settings.
type ControllerConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	Token          string `yaml:"token"`
	TailLimitBytes int    `yaml:"tail_limit_bytes"`
	MaxFrameBytes  int    `yaml:"max_frame_bytes"`

	PingInterval    time.Duration `yaml:"-"`
	StatusInterval  time.Duration `yaml:"-"`
	GCInterval      time.Duration `yaml:"-"`
	GCMaxAge        time.Duration `yaml:"-"`
	ExecWaitTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PingIntervalRaw    string `yaml:"ping_interval"`
	StatusIntervalRaw  string `yaml:"status_interval"`
	GCIntervalRaw      string `yaml:"gc_interval"`
	GCMaxAgeRaw        string `yaml:"gc_max_age"`
	ExecWaitTimeoutRaw string `yaml:"exec_wait_timeout"`
}

// AgentConfig holds the endpoint-side settings.
type AgentConfig struct {
	ControllerAddr string `yaml:"controller_addr"`
	Token          string `yaml:"token"`
	DiskPath       string `yaml:"disk_path"`

	ConnectTimeout time.Duration `yaml:"-"`

	ConnectTimeoutRaw string `yaml:"connect_timeout"`
}

// LoggingConfig selects slog level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Controller: ControllerConfig{
			ListenAddr:      "0.0.0.0:60119",
			TailLimitBytes:  cmds.DefaultTailLimit,
			MaxFrameBytes:   wire.DefaultMaxFrameSize,
			PingInterval:    15 * time.Second,
			StatusInterval:  30 * time.Second,
			GCInterval:      time.Minute,
			GCMaxAge:        time.Hour,
			ExecWaitTimeout: 60 * time.Second,
		},
		Agent: AgentConfig{
			ControllerAddr: "127.0.0.1:60119",
			DiskPath:       "/",
			ConnectTimeout: wire.DefaultDialTimeout,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file, expands ${VAR} environment
// references, applies it over the defaults, parses duration strings,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to empty.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks the fields both binaries depend on.
func (c *Config) Validate() error {
	if c.Controller.ListenAddr == "" {
		return fmt.Errorf("controller.listen_addr is required")
	}
	if c.Controller.TailLimitBytes < 0 {
		return fmt.Errorf("controller.tail_limit_bytes must not be negative")
	}
	if c.Controller.MaxFrameBytes <= 0 {
		return fmt.Errorf("controller.max_frame_bytes must be positive")
	}
	if c.Agent.ControllerAddr == "" {
		return fmt.Errorf("agent.controller_addr is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration
// values, leaving defaults in place for absent fields.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Controller.PingIntervalRaw, "ping_interval", &cfg.Controller.PingInterval},
		{cfg.Controller.StatusIntervalRaw, "status_interval", &cfg.Controller.StatusInterval},
		{cfg.Controller.GCIntervalRaw, "gc_interval", &cfg.Controller.GCInterval},
		{cfg.Controller.GCMaxAgeRaw, "gc_max_age", &cfg.Controller.GCMaxAge},
		{cfg.Controller.ExecWaitTimeoutRaw, "exec_wait_timeout", &cfg.Controller.ExecWaitTimeout},
		{cfg.Agent.ConnectTimeoutRaw, "connect_timeout", &cfg.Agent.ConnectTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Starter is a commented example config written by `specula-controller init`.
const Starter = `# specula configuration
controller:
  listen_addr: "0.0.0.0:60119"
  token: "${SPECULA_TOKEN}"
  tail_limit_bytes: 65536
  ping_interval: 15s
  status_interval: 30s
  gc_interval: 1m
  gc_max_age: 1h

agent:
  controller_addr: "127.0.0.1:60119"
  token: "${SPECULA_TOKEN}"
  disk_path: "/"
  connect_timeout: 5s

logging:
  level: info
  format: text
`
