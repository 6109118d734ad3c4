// Package tuning defines the tuning request exchanged between nvprime clients
// and the daemon, and the JSON blob that carries its cpu, gpu and sys sections.
package tuning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nvprime/nvprime/internal/foundation/errors"
)

// ProtocolVersion is the only request version the daemon accepts.
const ProtocolVersion uint8 = 1

const (
	MinNice       = -20
	MaxNice       = 19
	MaxIOPriority = 7
)

// CPUConfig controls the energy-performance-preference of every core.
type CPUConfig struct {
	Enabled bool       `json:"enabled" yaml:"enabled"`
	EPPTune EPPProfile `json:"epp_tune" yaml:"epp_tune"`
	// EPPBase is restored once the last tuned process exits. Empty means "default".
	EPPBase EPPProfile `json:"epp_base" yaml:"epp_base"`
}

// GPUConfig controls the power limit of the daemon's GPU.
type GPUConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	SetMax       bool    `json:"set_max" yaml:"set_max"`
	PowerLimitMW *uint32 `json:"power_limit_mw,omitempty" yaml:"power_limit_mw,omitempty"`
	DeviceUUID   *string `json:"device_uuid,omitempty" yaml:"device_uuid,omitempty"`
}

// SysConfig controls scheduling of the tuned process and its watchdog.
type SysConfig struct {
	Enabled             bool `json:"enabled" yaml:"enabled"`
	IOPriority          *int `json:"io_priority,omitempty" yaml:"io_priority,omitempty"`
	Renice              int  `json:"renice" yaml:"renice"`
	WatchdogIntervalSec uint `json:"watchdog_interval_sec" yaml:"watchdog_interval_sec"`
}

// Config is the blob sent with ApplyTuning. Missing sections decode to their
// zero value, which disables them.
type Config struct {
	CPU CPUConfig `json:"cpu" yaml:"cpu"`
	GPU GPUConfig `json:"gpu" yaml:"gpu"`
	Sys SysConfig `json:"sys" yaml:"sys"`
}

// Request is a decoded ApplyTuning call.
type Request struct {
	ID      string
	Version uint8
	PID     int
	Config
}

// PowerTarget describes the power limit to program. Max wins over Milliwatts.
type PowerTarget struct {
	Max        bool
	Milliwatts uint32
}

func (t PowerTarget) String() string {
	if t.Max {
		return "max"
	}
	return fmt.Sprintf("%dmW", t.Milliwatts)
}

// Target returns the power target requested by the section, and false when the
// section asks for nothing.
func (g GPUConfig) Target() (PowerTarget, bool) {
	switch {
	case g.SetMax:
		return PowerTarget{Max: true}, true
	case g.PowerLimitMW != nil:
		return PowerTarget{Milliwatts: *g.PowerLimitMW}, true
	default:
		return PowerTarget{}, false
	}
}

// Baseline returns the profile to restore, defaulting to EPPDefault.
func (c CPUConfig) Baseline() EPPProfile {
	if c.EPPBase == "" {
		return EPPDefault
	}
	return c.EPPBase
}

// WatchdogInterval returns the requested poll interval, or fallback when the
// request leaves it at zero.
func (s SysConfig) WatchdogInterval(fallback time.Duration) time.Duration {
	if s.WatchdogIntervalSec == 0 {
		return fallback
	}
	return time.Duration(s.WatchdogIntervalSec) * time.Second
}

// Any reports whether at least one section is enabled.
func (c Config) Any() bool {
	return c.CPU.Enabled || c.GPU.Enabled || c.Sys.Enabled
}

// Validate checks ranges that JSON decoding cannot express.
func (c Config) Validate() error {
	if c.CPU.Enabled && c.CPU.EPPTune == "" {
		return errors.ConfigError("cpu.epp_tune is required when cpu tuning is enabled").Build()
	}
	if c.Sys.Renice < MinNice || c.Sys.Renice > MaxNice {
		return errors.ConfigError("sys.renice out of range").
			WithContext("renice", c.Sys.Renice).
			Build()
	}
	if p := c.Sys.IOPriority; p != nil && (*p < 0 || *p > MaxIOPriority) {
		return errors.ConfigError("sys.io_priority out of range").
			WithContext("io_priority", *p).
			Build()
	}
	return nil
}

// Encode renders the config as the JSON blob carried by ApplyTuning.
func (c Config) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryInternal, "encode tuning config").Build()
	}
	return string(b), nil
}

// DecodeConfig parses a JSON tuning blob. Unknown fields are ignored; wrong types,
// truncated input and trailing data are rejected.
func DecodeConfig(blob string) (Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader([]byte(blob)))
	if err := dec.Decode(&cfg); err != nil {
		if classified, ok := errors.AsClassified(err); ok {
			return Config{}, classified
		}
		return Config{}, errors.ConfigError("malformed tuning config").WithCause(err).Build()
	}
	if _, err := dec.Token(); err != io.EOF {
		return Config{}, errors.ConfigError("malformed tuning config").
			WithCause(fmt.Errorf("unexpected data after config object")).
			Build()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewRequest validates the version and pid, then decodes the blob.
func NewRequest(id string, version uint8, pid int, blob string) (Request, error) {
	if err := CheckVersion(version); err != nil {
		return Request{}, err
	}
	if pid <= 0 {
		return Request{}, errors.ConfigError("invalid pid").WithContext("pid", pid).Build()
	}
	cfg, err := DecodeConfig(blob)
	if err != nil {
		return Request{}, err
	}
	return Request{ID: id, Version: version, PID: pid, Config: cfg}, nil
}

// CheckVersion rejects any protocol version other than ProtocolVersion.
func CheckVersion(version uint8) error {
	if version != ProtocolVersion {
		return errors.ConfigError("unsupported protocol version").
			WithContext("version", version).
			WithContext("supported", ProtocolVersion).
			Build()
	}
	return nil
}
