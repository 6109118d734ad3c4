// Package config loads the nvprime YAML configuration shared by the daemon and
// the client commands.
package config

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nvprime/nvprime/internal/foundation/errors"
	"github.com/nvprime/nvprime/internal/foundation/normalization"
	"github.com/nvprime/nvprime/internal/tuning"
)

// DefaultPath is the system-wide configuration file.
const DefaultPath = "/etc/nvprime/nvprime.yaml"

// Config is the root of nvprime.yaml.
type Config struct {
	Daemon   DaemonConfig   `yaml:"daemon"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tuning   tuning.Config  `yaml:"tuning"`
	Launcher LauncherConfig `yaml:"launcher"`
}

// DaemonConfig configures the privileged daemon.
type DaemonConfig struct {
	Bus             Bus            `yaml:"bus"`
	BusRetry        RetryConfig    `yaml:"bus_retry"`
	GPU             GPUConfig      `yaml:"gpu"`
	CPU             CPUConfig      `yaml:"cpu"`
	Watchdog        WatchdogConfig `yaml:"watchdog"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
	Journal         JournalConfig  `yaml:"journal"`
	NATS            NATSConfig     `yaml:"nats"`
	Metrics         MetricsConfig  `yaml:"metrics"`
}

// GPUConfig selects the GPU the daemon opens at startup.
type GPUConfig struct {
	Enabled bool `yaml:"enabled"`
	// DeviceUUID picks a device; empty means the first one.
	DeviceUUID string `yaml:"device_uuid"`
}

// CPUConfig locates the cpufreq sysfs tree.
type CPUConfig struct {
	SysfsRoot string `yaml:"sysfs_root"`
}

type WatchdogConfig struct {
	DefaultInterval time.Duration `yaml:"default_interval"`
}

// JournalConfig configures the SQLite event journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// NATSConfig configures event publication. An empty URL disables it.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// MetricsConfig configures the /metrics and /healthz listener. An empty
// address disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Bus names the D-Bus message bus the daemon serves on.
type Bus string

const (
	BusSystem  Bus = "system"
	BusSession Bus = "session"
)

var busNormalizer = normalization.NewNormalizer("bus", map[string]Bus{
	"system":  BusSystem,
	"session": BusSession,
	"user":    BusSession,
}, BusSystem)

// Default returns the configuration used when no file exists. Load decodes on
// top of it, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Bus:             BusSystem,
			BusRetry:        RetryConfig{Backoff: RetryBackoffExponential, Initial: 500 * time.Millisecond, Max: 5 * time.Second, MaxRetries: 5},
			GPU:             GPUConfig{Enabled: true},
			CPU:             CPUConfig{SysfsRoot: "/sys/devices/system/cpu"},
			Watchdog:        WatchdogConfig{DefaultInterval: 5 * time.Second},
			ShutdownTimeout: 10 * time.Second,
			Journal:         JournalConfig{Path: "/var/lib/nvprime/events.db"},
			NATS:            NATSConfig{Subject: "nvprime.events"},
		},
		Logging: LoggingConfig{Level: LogLevelInfo, Format: LogFormatText},
		Tuning: tuning.Config{
			CPU: tuning.CPUConfig{EPPTune: tuning.EPPPerformance, EPPBase: tuning.EPPBalancePerformance},
			GPU: tuning.GPUConfig{SetMax: true},
			Sys: tuning.SysConfig{WatchdogIntervalSec: 5},
		},
	}
}

// Load reads path, expands environment variables and validates the result.
// A dotenv file next to the config is loaded first.
func Load(path string) (*Config, error) {
	loadEnvFiles(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigError(fmt.Sprintf("configuration file not found: %s", path)).
				WithContext("path", path).
				Build()
		}
		return nil, errors.ConfigError("failed to read config file").WithCause(err).WithContext("path", path).Build()
	}
	cfg, err := Parse(data)
	if err != nil {
		if c, ok := errors.AsClassified(err); ok {
			return nil, c.WithContext("path", path)
		}
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		loadEnvFiles(path)
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return Load(path)
}

// Parse decodes YAML content on top of Default. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		if c, ok := errors.AsClassified(err); ok {
			return nil, c
		}
		return nil, errors.ConfigError("failed to parse config").WithCause(err).Build()
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize canonicalizes enumerated fields in place.
func (c *Config) Normalize() error {
	bus, err := busNormalizer.NormalizeWithError(string(c.Daemon.Bus))
	if err != nil {
		return errors.ConfigError("invalid daemon.bus").WithCause(err).Build()
	}
	c.Daemon.Bus = bus

	backoff, err := retryBackoffNormalizer.NormalizeWithError(string(c.Daemon.BusRetry.Backoff))
	if err != nil {
		return errors.ConfigError("invalid daemon.bus_retry.backoff").WithCause(err).Build()
	}
	c.Daemon.BusRetry.Backoff = backoff

	level, err := logLevelNormalizer.NormalizeWithError(string(c.Logging.Level))
	if err != nil {
		return errors.ConfigError("invalid logging.level").WithCause(err).Build()
	}
	c.Logging.Level = level

	format, err := logFormatNormalizer.NormalizeWithError(string(c.Logging.Format))
	if err != nil {
		return errors.ConfigError("invalid logging.format").WithCause(err).Build()
	}
	c.Logging.Format = format

	c.Launcher.normalize()
	return nil
}

// Validate checks bounds and cross-field rules.
func (c *Config) Validate() error {
	if c.Daemon.Watchdog.DefaultInterval <= 0 {
		return errors.ConfigError("daemon.watchdog.default_interval must be positive").
			WithContext("value", c.Daemon.Watchdog.DefaultInterval.String()).
			Build()
	}
	if c.Daemon.ShutdownTimeout <= 0 {
		return errors.ConfigError("daemon.shutdown_timeout must be positive").
			WithContext("value", c.Daemon.ShutdownTimeout.String()).
			Build()
	}
	if r := c.Daemon.BusRetry; r.Initial <= 0 || r.Max <= 0 || r.MaxRetries < 0 {
		return errors.ConfigError("daemon.bus_retry needs positive initial and max and non-negative max_retries").Build()
	}
	if c.Daemon.CPU.SysfsRoot == "" {
		return errors.ConfigError("daemon.cpu.sysfs_root must not be empty").Build()
	}
	if c.Daemon.NATS.URL != "" && c.Daemon.NATS.Subject == "" {
		return errors.ConfigError("daemon.nats.subject is required when daemon.nats.url is set").Build()
	}
	if err := c.Tuning.Validate(); err != nil {
		return err
	}
	return nil
}
