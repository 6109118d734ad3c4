package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// LauncherConfig drives `nvprime run`.
type LauncherConfig struct {
	// GPUName is matched by DXVK and VKD3D to pick the discrete GPU.
	GPUName string                 `yaml:"gpu_name"`
	Env     EnvConfig              `yaml:"env"`
	Games   map[string]GameOptions `yaml:"games"`
	Hooks   HooksConfig            `yaml:"hooks"`
}

// EnvConfig holds extra environment variables for every game and per game.
type EnvConfig struct {
	Global map[string]EnvValue            `yaml:"global"`
	Games  map[string]map[string]EnvValue `yaml:"games"`
}

// GameOptions are per-game toggles for common Proton and overlay variables.
// Unset toggles keep the launcher defaults.
type GameOptions struct {
	MangoHUD         *bool  `yaml:"mangohud"`
	ProtonLog        *bool  `yaml:"proton_log"`
	ProtonNTSync     *bool  `yaml:"proton_ntsync"`
	ProtonWayland    *bool  `yaml:"proton_wayland"`
	WineDLLOverrides string `yaml:"wine_dll_overrides"`
}

// HooksConfig holds shell commands run around a game session.
type HooksConfig struct {
	Init     string `yaml:"init"`
	Shutdown string `yaml:"shutdown"`
}

// EnvValue is an environment value written in YAML as a string, number or
// boolean. Booleans become "1" or "0".
type EnvValue string

func (v *EnvValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: environment values must be scalars", node.Line)
	}
	switch node.ShortTag() {
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		*v = "0"
		if b {
			*v = "1"
		}
	case "!!null":
		*v = ""
	default:
		*v = EnvValue(node.Value)
	}
	return nil
}

func (v EnvValue) String() string { return string(v) }

// Game returns the options and extra environment for a game name.
func (l LauncherConfig) Game(name string) (GameOptions, map[string]EnvValue) {
	name = strings.ToLower(name)
	return l.Games[name], l.Env.Games[name]
}

// normalize lower-cases game keys so lookups by detected name match.
func (l *LauncherConfig) normalize() {
	if len(l.Games) > 0 {
		games := make(map[string]GameOptions, len(l.Games))
		for k, v := range l.Games {
			games[strings.ToLower(k)] = v
		}
		l.Games = games
	}
	if len(l.Env.Games) > 0 {
		env := make(map[string]map[string]EnvValue, len(l.Env.Games))
		for k, v := range l.Env.Games {
			env[strings.ToLower(k)] = v
		}
		l.Env.Games = env
	}
}
