package tuning

import (
	"github.com/nvprime/nvprime/internal/foundation/errors"
	"github.com/nvprime/nvprime/internal/foundation/normalization"
)

// EPPProfile is a value accepted by the cpufreq energy_performance_preference
// attribute.
type EPPProfile string

const (
	EPPPerformance        EPPProfile = "performance"
	EPPBalancePerformance EPPProfile = "balance_performance"
	EPPDefault            EPPProfile = "default"
	EPPBalancePower       EPPProfile = "balance_power"
	EPPPower              EPPProfile = "power"
)

var eppNormalizer = normalization.NewNormalizer("epp profile", map[string]EPPProfile{
	"performance":         EPPPerformance,
	"balance_performance": EPPBalancePerformance,
	"default":             EPPDefault,
	"balance_power":       EPPBalancePower,
	"power":               EPPPower,
}, EPPDefault)

// ParseEPPProfile parses a profile name case-insensitively. Hyphenated spellings
// are accepted.
func ParseEPPProfile(raw string) (EPPProfile, error) {
	p, err := eppNormalizer.NormalizeWithError(raw)
	if err != nil {
		return "", errors.ConfigError("unknown EPP profile").
			WithCause(err).
			WithContext("profile", raw).
			Build()
	}
	return p, nil
}

// EPPProfiles lists every accepted profile name.
func EPPProfiles() []string { return eppNormalizer.ValidKeys() }

func (p EPPProfile) String() string { return string(p) }

// UnmarshalText lets JSON and YAML decoding validate profile names. An empty
// string leaves the profile unset.
func (p *EPPProfile) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*p = ""
		return nil
	}
	v, err := ParseEPPProfile(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
