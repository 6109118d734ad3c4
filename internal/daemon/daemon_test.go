package daemon

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvprime/nvprime/internal/config"
	"github.com/nvprime/nvprime/internal/events"
	"github.com/nvprime/nvprime/internal/foundation/errors"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Daemon.Journal.Path = filepath.Join(t.TempDir(), "events.db")
	return cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config, configPath string, levelVar *slog.LevelVar) (*Daemon, *fixture) {
	t.Helper()
	f := newFixture(false)
	d, err := New(Options{
		Config:     cfg,
		ConfigPath: configPath,
		LevelVar:   levelVar,
		GPU:        fakeOpener{dev: f.gpu},
		EPP:        f.epp,
		Priority:   f.prio,
		Liveness:   newFakeLiveness(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if d.configWatcher != nil {
			_ = d.configWatcher.Stop(context.Background())
		}
		_ = d.scheduler.Stop(context.Background())
		d.cleanup()
	})
	return d, f
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfig))
}

func TestDaemon_ReloadConfig(t *testing.T) {
	levelVar := new(slog.LevelVar)
	d, _ := newTestDaemon(t, testConfig(t), "", levelVar)

	updated := testConfig(t)
	updated.Logging.Level = config.LogLevelDebug
	updated.Daemon.Watchdog.DefaultInterval = 2 * time.Second
	require.NoError(t, d.ReloadConfig(updated))

	assert.Equal(t, slog.LevelDebug, levelVar.Level())
	assert.Equal(t, 2*time.Second, d.Controller().Watchdog().DefaultInterval())
	assert.Same(t, updated, d.GetConfig())

	require.Error(t, d.ReloadConfig(nil))
}

func TestRestartOnlyChanges(t *testing.T) {
	old := config.Default()
	updated := config.Default()
	assert.Empty(t, restartOnlyChanges(old, updated))

	updated.Daemon.Bus = config.BusSession
	updated.Daemon.GPU.Enabled = false
	updated.Daemon.NATS.URL = "nats://127.0.0.1:4222"
	updated.Daemon.Watchdog.DefaultInterval = time.Second
	assert.Equal(t, []string{"daemon.bus", "daemon.gpu", "daemon.nats"}, restartOnlyChanges(old, updated))
}

func TestDaemon_HealthWhileStopped(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig(t), "", nil)

	resp := d.PerformHealthChecks()
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
	require.Len(t, resp.Checks, 3)
	assert.Equal(t, "daemon_status", resp.Checks[0].Name)
	assert.Equal(t, HealthStatusUnhealthy, resp.Checks[0].Status)
	assert.Equal(t, HealthStatusUnhealthy, resp.Checks[1].Status)
	// GPU enabled in config but never initialized.
	assert.Equal(t, HealthStatusDegraded, resp.Checks[2].Status)
	assert.Equal(t, 0, resp.ActivePIDs)
}

func TestHTTPServer_Endpoints(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig(t), "", nil)
	srv := NewHTTPServer("127.0.0.1:0", d)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "nvprime_active_pids")
	assert.Contains(t, string(body), "go_goroutines")

	resp, err = http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestDaemon_JournalRecordsControllerEvents(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDaemon(t, cfg, "", nil)
	d.scheduler.Start(context.Background())

	req := fullRequest("a", 100)
	req.GPU.Enabled = false
	require.NoError(t, d.Controller().Apply(context.Background(), req))
	require.NoError(t, d.Controller().Shutdown())
	d.cleanup()

	j, err := events.OpenJournal(cfg.Daemon.Journal.Path)
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	got, err := j.ByPID(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events.TypeActivated, got[0].Type)
	assert.Equal(t, events.TypeApplied, got[1].Type)

	recent, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, recent)
	assert.Equal(t, events.TypeRestored, recent[0].Type)
	assert.Equal(t, "shutdown", recent[0].Trigger)
}

func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nvprime.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))

	cfg := testConfig(t)
	levelVar := new(slog.LevelVar)
	d, _ := newTestDaemon(t, cfg, path, levelVar)
	require.NotNil(t, d.configWatcher)
	d.configWatcher.debounceTime = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, d.configWatcher.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\ndaemon:\n  watchdog:\n    default_interval: 3s\n"), 0o600))

	require.Eventually(t, func() bool {
		return levelVar.Level() == slog.LevelDebug
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3*time.Second, d.Controller().Watchdog().DefaultInterval())
}
