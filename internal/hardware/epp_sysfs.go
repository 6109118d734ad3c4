package hardware

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/nvprime/nvprime/internal/foundation/errors"
	"github.com/nvprime/nvprime/internal/logfields"
	"github.com/nvprime/nvprime/internal/tuning"
)

// DefaultCPUSysfsRoot is where per-core cpufreq directories live.
const DefaultCPUSysfsRoot = "/sys/devices/system/cpu"

var cpuDirPattern = regexp.MustCompile(`^cpu[0-9]+$`)

// SysfsEPP writes cpufreq/energy_performance_preference for every core below Root.
type SysfsEPP struct {
	Root string
}

// NewSysfsEPP returns a writer rooted at root, or DefaultCPUSysfsRoot when empty.
func NewSysfsEPP(root string) *SysfsEPP {
	if root == "" {
		root = DefaultCPUSysfsRoot
	}
	return &SysfsEPP{Root: root}
}

// SetEPP writes profile to every core. Per-core write failures are counted in
// the report, not returned; an error means EPP is not available at all.
func (s *SysfsEPP) SetEPP(profile tuning.EPPProfile) (EPPReport, error) {
	if _, err := tuning.ParseEPPProfile(string(profile)); err != nil {
		return EPPReport{}, err
	}

	paths, err := s.preferenceFiles()
	if err != nil {
		return EPPReport{}, err
	}

	var report EPPReport
	for _, p := range paths {
		if err := os.WriteFile(p, []byte(profile), 0o644); err != nil {
			report.Failed++
			slog.Debug("EPP write failed", logfields.Path(p), logfields.Error(err))
			continue
		}
		report.Applied++
	}

	if report.Applied == 0 {
		slog.Warn("EPP profile not applied to any core",
			logfields.EPPProfile(profile.String()),
			slog.Int("cores_failed", report.Failed))
		return report, nil
	}
	slog.Info("Applied EPP profile",
		logfields.EPPProfile(profile.String()),
		slog.Int("cores_applied", report.Applied),
		slog.Int("cores_failed", report.Failed))
	return report, nil
}

// Current reads the profile of the first core that exposes one.
func (s *SysfsEPP) Current() (tuning.EPPProfile, error) {
	paths, err := s.preferenceFiles()
	if err != nil {
		return "", err
	}
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		return tuning.ParseEPPProfile(string(raw))
	}
	return "", errors.AdapterError("no readable EPP attribute").Build()
}

func (s *SysfsEPP) preferenceFiles() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, errors.AdapterError("EPP not supported").
			WithCause(fmt.Errorf("read %s: %w", s.Root, err)).
			Build()
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() || !cpuDirPattern.MatchString(e.Name()) {
			continue
		}
		p := filepath.Join(s.Root, e.Name(), "cpufreq", "energy_performance_preference")
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, errors.AdapterError("EPP not supported").
			WithContext("root", s.Root).
			Build()
	}
	return paths, nil
}
