package launcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvprime/nvprime/internal/config"
)

func TestDetectGame(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantName  string
		wantAppID uint32
		wantArgs  []string
	}{
		{
			name: "steam proton launch",
			args: []string{
				"/home/u/.steam/steam/ubuntu12_32/reaper", "SteamLaunch", "AppId=1091500", "--",
				"/home/u/.steam/steam/steamapps/common/Proton 9.0/proton", "waitforexitandrun",
				"/games/Cyberpunk 2077/bin/x64/Cyberpunk2077.exe", "-skipStartScreen",
			},
			wantName:  "cyberpunk2077",
			wantAppID: 1091500,
			wantArgs:  []string{"-skipStartScreen"},
		},
		{
			name:     "first exe after waitforexitandrun",
			args:     []string{"launcher.exe", "proton", "waitforexitandrun", "Game.EXE", "helper.exe"},
			wantName: "game",
			wantArgs: []string{"helper.exe"},
		},
		{
			name:     "last exe without waitforexitandrun",
			args:     []string{"wine", "setup.exe", `C:\Games\FFXVI\ffxvi.exe`, "-dx12"},
			wantName: "ffxvi",
			wantArgs: []string{"-dx12"},
		},
		{
			name:     "native binary",
			args:     []string{"/usr/bin/glxgears", "-info"},
			wantName: "glxgears",
			wantArgs: []string{"-info"},
		},
		{
			name:      "unparsable app id",
			args:      []string{"AppId=abc", "game.sh"},
			wantName:  "appid=abc",
			wantArgs:  []string{"game.sh"},
			wantAppID: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := DetectGame(tt.args)
			assert.Equal(t, tt.wantName, g.Name)
			assert.Equal(t, tt.wantAppID, g.AppID)
			assert.Equal(t, tt.wantArgs, g.Args)
		})
	}

	assert.Equal(t, Game{}, DetectGame(nil))
}

func TestBuildEnvLayers(t *testing.T) {
	on, off := true, false
	cfg := config.LauncherConfig{
		GPUName: "RTX 4070",
		Env: config.EnvConfig{
			Global: map[string]config.EnvValue{
				"MANGOHUD":   "1",
				"DXVK_ASYNC": "1",
			},
			Games: map[string]map[string]config.EnvValue{
				"cyberpunk2077": {"PROTON_LOG": "2", "__GL_YIELD": "NOTHING"},
			},
		},
		Games: map[string]config.GameOptions{
			"cyberpunk2077": {MangoHUD: &off, ProtonLog: &on, WineDLLOverrides: "winmm=n,b"},
		},
	}

	env := BuildEnv(cfg, "cyberpunk2077")
	assert.Equal(t, "1", env["__NV_PRIME_RENDER_OFFLOAD"])
	assert.Equal(t, "RTX 4070", env["DXVK_FILTER_DEVICE_NAME"])
	assert.Equal(t, "RTX 4070", env["VKD3D_FILTER_DEVICE_NAME"])
	assert.Equal(t, "1", env["DXVK_ASYNC"])
	// Per-game toggle beats global, per-game env beats toggle.
	assert.Equal(t, "0", env["MANGOHUD"])
	assert.Equal(t, "2", env["PROTON_LOG"])
	assert.Equal(t, "NOTHING", env["__GL_YIELD"])
	assert.Equal(t, "0", env["PROTON_USE_NTSYNC"])
	assert.Equal(t, "winmm=n,b", env["WINEDLLOVERRIDES"])

	other := BuildEnv(cfg, "glxgears")
	assert.Equal(t, "1", other["MANGOHUD"])
	assert.Equal(t, "USLEEP", other["__GL_YIELD"])
	assert.NotContains(t, other, "WINEDLLOVERRIDES")
}

func TestBuildEnvDefaultsOnly(t *testing.T) {
	env := BuildEnv(config.LauncherConfig{}, "game")
	assert.Equal(t, DefaultEnv(), env)
	assert.NotContains(t, env, "DXVK_FILTER_DEVICE_NAME")
}

func TestEnviron(t *testing.T) {
	got := Environ(
		[]string{"PATH=/usr/bin", "HOME=/home/u", "EMPTY=", "MANGOHUD=1", "A=b=c"},
		map[string]string{"MANGOHUD": "0", "NEW": "x"},
	)
	assert.Equal(t, []string{"A=b=c", "EMPTY=", "HOME=/home/u", "MANGOHUD=0", "NEW=x", "PATH=/usr/bin"}, got)
}

func TestLauncherRunsCommandWithHooks(t *testing.T) {
	dir := t.TempDir()
	initMarker := filepath.Join(dir, "init")
	shutdownMarker := filepath.Join(dir, "shutdown")
	out := filepath.Join(dir, "out")

	cfg := config.LauncherConfig{
		Env: config.EnvConfig{Global: map[string]config.EnvValue{"NVPRIME_TEST_VALUE": "42"}},
		Hooks: config.HooksConfig{
			Init:     "echo $NVPRIME_TEST_VALUE > " + initMarker,
			Shutdown: "touch " + shutdownMarker,
		},
	}

	l, err := New([]string{"sh", "-c", `echo "$__NV_PRIME_RENDER_OFFLOAD" > "$0"; exit 3`, out}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "sh", l.Game.Name)

	pid, err := l.Start(t.Context())
	require.NoError(t, err)
	assert.Positive(t, pid)

	code, err := l.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(raw))

	raw, err = os.ReadFile(initMarker)
	require.NoError(t, err)
	assert.Equal(t, "42\n", string(raw))
	assert.FileExists(t, shutdownMarker)
}

func TestLauncherSignalExit(t *testing.T) {
	l, err := New([]string{"sh", "-c", "kill -9 $$"}, config.LauncherConfig{})
	require.NoError(t, err)
	_, err = l.Start(t.Context())
	require.NoError(t, err)

	code, err := l.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, -1, code)
}

func TestLauncherErrors(t *testing.T) {
	_, err := New(nil, config.LauncherConfig{})
	require.Error(t, err)

	l, err := New([]string{filepath.Join(t.TempDir(), "does-not-exist")}, config.LauncherConfig{})
	require.NoError(t, err)
	_, err = l.Start(t.Context())
	require.Error(t, err)

	_, err = l.Wait(t.Context())
	require.Error(t, err)
}

func TestRunHookFailureDoesNotPanic(t *testing.T) {
	RunHook(t.Context(), "init", "exit 7", os.Environ())
	RunHook(t.Context(), "init", "", nil)
}
