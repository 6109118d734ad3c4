package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/godbus/dbus/v5"
	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nvprime/nvprime/internal/config"
	"github.com/nvprime/nvprime/internal/events"
	"github.com/nvprime/nvprime/internal/foundation/errors"
	"github.com/nvprime/nvprime/internal/hardware"
	"github.com/nvprime/nvprime/internal/ipc"
	"github.com/nvprime/nvprime/internal/logfields"
	"github.com/nvprime/nvprime/internal/metrics"
	"github.com/nvprime/nvprime/internal/retry"
	"github.com/nvprime/nvprime/internal/version"
)

// Status represents the current state of the daemon
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Options configures a Daemon. Hardware fields left nil use the real
// implementations; tests inject fakes.
type Options struct {
	Config     *config.Config
	ConfigPath string
	// LevelVar is adjusted when logging.level changes on reload.
	LevelVar *slog.LevelVar

	// Conn is used instead of connecting to the configured bus.
	Conn *dbus.Conn

	GPU      hardware.GPUOpener
	EPP      hardware.EPPWriter
	Priority hardware.PriorityAdjuster
	Liveness hardware.LivenessChecker
}

// Daemon represents the main daemon service
type Daemon struct {
	config     atomic.Pointer[config.Config]
	configPath string
	levelVar   *slog.LevelVar
	status     atomic.Value // Status
	startTime  time.Time
	mu         sync.Mutex

	gpuOpener hardware.GPUOpener

	state      *State
	scheduler  *Scheduler
	controller *Controller
	dispatcher *events.Dispatcher
	registry   *prom.Registry

	conn     *dbus.Conn
	ownsConn bool

	httpServer    *HTTPServer
	configWatcher *ConfigWatcher
}

// New creates a daemon. Nothing touches the bus or the GPU until Start.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.ConfigError("configuration is required").Build()
	}
	cfg := opts.Config

	d := &Daemon{
		configPath: opts.ConfigPath,
		levelVar:   opts.LevelVar,
		gpuOpener:  opts.GPU,
		conn:       opts.Conn,
	}
	d.config.Store(cfg)
	d.status.Store(StatusStopped)

	if d.gpuOpener == nil {
		d.gpuOpener = hardware.NVMLOpener{}
	}
	epp := opts.EPP
	if epp == nil {
		epp = hardware.NewSysfsEPP(cfg.Daemon.CPU.SysfsRoot)
	}
	prio := opts.Priority
	if prio == nil {
		prio = hardware.UnixPriority{}
	}
	liveness := opts.Liveness
	if liveness == nil {
		liveness = hardware.ProcessLiveness{}
	}

	scheduler, err := NewScheduler()
	if err != nil {
		return nil, errors.DaemonError("failed to create scheduler").WithCause(err).Build()
	}
	d.scheduler = scheduler

	d.registry = prom.NewRegistry()
	d.registry.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(d.registry)

	d.dispatcher = events.NewDispatcher(0, openSinks(cfg.Daemon)...)

	d.state = NewState(epp, prio)
	d.controller = NewController(d.state, d.scheduler, liveness, cfg.Daemon.Watchdog.DefaultInterval, recorder, d.dispatcher)

	if cfg.Daemon.Metrics.Listen != "" {
		d.httpServer = NewHTTPServer(cfg.Daemon.Metrics.Listen, d)
	}
	if d.configPath != "" {
		d.configWatcher, err = NewConfigWatcher(d.configPath, d)
		if err != nil {
			return nil, errors.DaemonError("failed to create config watcher").WithCause(err).Build()
		}
	}
	return d, nil
}

// openSinks opens the journal and the NATS publisher. Either one failing only
// disables that sink.
func openSinks(cfg config.DaemonConfig) []events.Sink {
	var sinks []events.Sink
	if cfg.Journal.Path != "" {
		j, err := events.OpenJournal(cfg.Journal.Path)
		if err != nil {
			slog.Warn("Event journal disabled", logfields.Path(cfg.Journal.Path), logfields.Error(err))
		} else {
			sinks = append(sinks, j)
		}
	}
	if cfg.NATS.URL != "" {
		p, err := events.NewPublisher(context.Background(), cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			slog.Warn("NATS event publishing disabled", logfields.Error(err))
		} else {
			sinks = append(sinks, p)
		}
	}
	return sinks
}

// Run starts the daemon, blocks until ctx is canceled, then stops it within
// the configured shutdown timeout.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		_ = d.scheduler.Stop(context.Background())
		d.cleanup()
		return err
	}
	<-ctx.Done()
	slog.Info("Shutdown requested")

	stopCtx, cancel := context.WithTimeout(context.Background(), d.GetConfig().Daemon.ShutdownTimeout)
	defer cancel()
	return d.Stop(stopCtx)
}

// Start brings up the GPU, the scheduler, the bus service and the optional
// listeners.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.GetStatus() != StatusStopped {
		return errors.DaemonError(fmt.Sprintf("daemon is not in stopped state: %s", d.GetStatus())).Build()
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	cfg := d.GetConfig()
	slog.Info("Starting nvprime daemon", slog.String("version", version.Version))

	if cfg.Daemon.GPU.Enabled {
		if err := d.state.InitGPU(d.gpuOpener, cfg.Daemon.GPU.DeviceUUID); err != nil {
			slog.Warn("GPU unavailable, GPU tuning disabled", logfields.Error(err))
		}
	} else {
		slog.Info("GPU tuning disabled by configuration")
	}

	d.scheduler.Start(ctx)

	if d.conn == nil {
		var conn *dbus.Conn
		err := retry.FromConfig(cfg.Daemon.BusRetry).Do(ctx, "connect message bus", func(ctx context.Context) error {
			var err error
			conn, err = connectBus(ctx, cfg.Daemon.Bus)
			return err
		})
		if err != nil {
			d.status.Store(StatusError)
			return err
		}
		d.conn = conn
		d.ownsConn = true
	}
	if err := ipc.Export(d.conn, ipc.NewService(d.controller)); err != nil {
		d.status.Store(StatusError)
		return err
	}

	if d.httpServer != nil {
		if err := d.httpServer.Start(ctx); err != nil {
			slog.Error("Failed to start metrics server", logfields.Error(err))
		}
	}
	if d.configWatcher != nil {
		if err := d.configWatcher.Start(ctx); err != nil {
			slog.Error("Failed to start config watcher", logfields.Error(err))
		}
	}

	d.status.Store(StatusRunning)
	notify(sddaemon.SdNotifyReady)
	slog.Info("nvprime daemon started",
		slog.String("bus", string(cfg.Daemon.Bus)),
		slog.Bool("gpu", d.state.HasGPU()),
		logfields.Interval(d.controller.Watchdog().DefaultInterval()))
	return nil
}

// Stop restores tuning, then tears everything down. In-flight watchdog checks
// are not waited for beyond the scheduler shutdown.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.GetStatus()
	if current == StatusStopped || current == StatusStopping {
		return nil
	}
	d.status.Store(StatusStopping)
	notify(sddaemon.SdNotifyStopping)
	slog.Info("Stopping nvprime daemon")

	// Unexport first so no ApplyTuning can land after the final restore.
	if d.conn != nil {
		ipc.Unexport(d.conn)
	}
	restoreErr := d.controller.Shutdown()
	if restoreErr != nil {
		slog.Error("Restore on shutdown incomplete", logfields.Error(restoreErr))
	}

	if d.configWatcher != nil {
		if err := d.configWatcher.Stop(ctx); err != nil {
			slog.Error("Failed to stop config watcher", logfields.Error(err))
		}
	}
	if err := d.scheduler.Stop(ctx); err != nil {
		slog.Warn("Scheduler shutdown incomplete", logfields.Error(err))
	}
	if d.httpServer != nil {
		if err := d.httpServer.Stop(ctx); err != nil {
			slog.Error("Failed to stop metrics server", logfields.Error(err))
		}
	}
	d.cleanup()

	d.status.Store(StatusStopped)
	slog.Info("nvprime daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return restoreErr
}

// cleanup releases resources that outlive Start: the GPU handle, event sinks
// and a connection the daemon opened itself.
func (d *Daemon) cleanup() {
	if err := d.state.Close(); err != nil {
		slog.Warn("Failed to close GPU", logfields.Error(err))
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.dispatcher.Close(drainCtx); err != nil {
		slog.Warn("Failed to close event sinks", logfields.Error(err))
	}
	if d.ownsConn && d.conn != nil {
		_ = d.conn.Close()
	}
}

// GetStatus returns the current daemon status
func (d *Daemon) GetStatus() Status {
	status, ok := d.status.Load().(Status)
	if !ok {
		return StatusError
	}
	return status
}

// GetConfig returns the active configuration.
func (d *Daemon) GetConfig() *config.Config {
	return d.config.Load()
}

// Controller returns the RPC backend.
func (d *Daemon) Controller() *Controller { return d.controller }

// ReloadConfig applies the settings that can change at runtime: the log level
// and the default watchdog interval. Other changes are logged and ignored
// until restart.
func (d *Daemon) ReloadConfig(newCfg *config.Config) error {
	if newCfg == nil {
		return errors.ConfigError("configuration is required").Build()
	}
	old := d.GetConfig()

	if d.levelVar != nil && newCfg.Logging.Level != old.Logging.Level {
		d.levelVar.Set(newCfg.Logging.Level.Slog())
		slog.Info("Log level changed", slog.String("level", string(newCfg.Logging.Level)))
	}
	if newCfg.Daemon.Watchdog.DefaultInterval != old.Daemon.Watchdog.DefaultInterval {
		d.controller.Watchdog().SetDefaultInterval(newCfg.Daemon.Watchdog.DefaultInterval)
		slog.Info("Default watchdog interval changed", logfields.Interval(newCfg.Daemon.Watchdog.DefaultInterval))
	}

	for _, field := range restartOnlyChanges(old, newCfg) {
		slog.Warn("Configuration change requires restart, ignoring", slog.String("field", field))
	}

	d.config.Store(newCfg)
	return nil
}

func restartOnlyChanges(old, updated *config.Config) []string {
	var fields []string
	if old.Daemon.Bus != updated.Daemon.Bus {
		fields = append(fields, "daemon.bus")
	}
	if old.Daemon.BusRetry != updated.Daemon.BusRetry {
		fields = append(fields, "daemon.bus_retry")
	}
	if old.Daemon.GPU != updated.Daemon.GPU {
		fields = append(fields, "daemon.gpu")
	}
	if old.Daemon.CPU != updated.Daemon.CPU {
		fields = append(fields, "daemon.cpu")
	}
	if old.Daemon.Journal != updated.Daemon.Journal {
		fields = append(fields, "daemon.journal")
	}
	if old.Daemon.NATS != updated.Daemon.NATS {
		fields = append(fields, "daemon.nats")
	}
	if old.Daemon.Metrics != updated.Daemon.Metrics {
		fields = append(fields, "daemon.metrics")
	}
	if old.Logging.Format != updated.Logging.Format {
		fields = append(fields, "logging.format")
	}
	return fields
}

func connectBus(ctx context.Context, bus config.Bus) (*dbus.Conn, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	switch bus {
	case config.BusSession:
		conn, err = dbus.ConnectSessionBus(dbus.WithContext(ctx))
	default:
		conn, err = dbus.ConnectSystemBus(dbus.WithContext(ctx))
	}
	if err != nil {
		return nil, errors.TransportError("failed to connect to D-Bus").
			WithCause(err).
			WithContext("bus", string(bus)).
			Build()
	}
	return conn, nil
}

func notify(state string) {
	if _, err := sddaemon.SdNotify(false, state); err != nil {
		slog.Debug("sd_notify failed", logfields.Error(err))
	}
}
