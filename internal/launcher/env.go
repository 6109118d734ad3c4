package launcher

import (
	"maps"
	"slices"
	"strings"

	"github.com/nvprime/nvprime/internal/config"
)

const (
	envMangoHUD      = "MANGOHUD"
	envProtonLog     = "PROTON_LOG"
	envProtonNTSync  = "PROTON_USE_NTSYNC"
	envProtonWayland = "PROTON_ENABLE_WAYLAND"
	envDXVKDevice    = "DXVK_FILTER_DEVICE_NAME"
	envVKD3DDevice   = "VKD3D_FILTER_DEVICE_NAME"
	envWineDLLs      = "WINEDLLOVERRIDES"
)

// DefaultEnv is the base layer: PRIME render offload to the NVIDIA GPU and
// driver flags that favour performance. Overlay and Proton toggles start off.
func DefaultEnv() map[string]string {
	return map[string]string{
		envMangoHUD:      "0",
		envProtonLog:     "0",
		envProtonNTSync:  "0",
		envProtonWayland: "0",

		"__NV_PRIME_RENDER_OFFLOAD": "1",
		"__GLX_VENDOR_LIBRARY_NAME": "nvidia",
		"__VK_LAYER_NV_optimus":     "NVIDIA_only",
		"VK_ICD_FILENAMES":          "/usr/share/vulkan/icd.d/nvidia_icd.json",

		"__GL_ExperimentalPerfStrategy": "1",
		"__GL_GSYNC_ALLOWED":            "1",
		"__GL_MaxFramesAllowed":         "1",
		"__GL_VRR_ALLOWED":              "1",
		"__GL_YIELD":                    "USLEEP",
	}
}

// BuildEnv layers the game environment. Later layers win: defaults, the GPU
// name filter, launcher.env.global, the per-game toggles, then
// launcher.env.games.<name>.
func BuildEnv(cfg config.LauncherConfig, game string) map[string]string {
	env := DefaultEnv()

	if cfg.GPUName != "" {
		env[envDXVKDevice] = cfg.GPUName
		env[envVKD3DDevice] = cfg.GPUName
	}

	for k, v := range cfg.Env.Global {
		env[k] = v.String()
	}

	opts, gameEnv := cfg.Game(game)
	setBool(env, envMangoHUD, opts.MangoHUD)
	setBool(env, envProtonLog, opts.ProtonLog)
	setBool(env, envProtonNTSync, opts.ProtonNTSync)
	setBool(env, envProtonWayland, opts.ProtonWayland)
	if opts.WineDLLOverrides != "" {
		env[envWineDLLs] = opts.WineDLLOverrides
	}

	for k, v := range gameEnv {
		env[k] = v.String()
	}
	return env
}

// Environ merges env over base (KEY=VALUE pairs, as from os.Environ) and
// returns the result sorted by key.
func Environ(base []string, env map[string]string) []string {
	merged := make(map[string]string, len(base)+len(env))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	maps.Copy(merged, env)

	out := make([]string, 0, len(merged))
	for _, k := range slices.Sorted(maps.Keys(merged)) {
		out = append(out, k+"="+merged[k])
	}
	return out
}

func setBool(env map[string]string, key string, v *bool) {
	if v == nil {
		return
	}
	if *v {
		env[key] = "1"
	} else {
		env[key] = "0"
	}
}
