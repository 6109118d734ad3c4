package daemon

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nvprime/nvprime/internal/version"
)

// HealthStatus represents the overall health of the daemon
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a single health check
type HealthCheck struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status     HealthStatus  `json:"status"`
	Timestamp  time.Time     `json:"timestamp"`
	Uptime     string        `json:"uptime"`
	Version    string        `json:"version"`
	ActivePIDs int           `json:"active_pids"`
	Checks     []HealthCheck `json:"checks"`
}

// PerformHealthChecks executes all health checks and returns the overall status
func (d *Daemon) PerformHealthChecks() *HealthResponse {
	checks := []HealthCheck{d.checkDaemonHealth(), d.checkBusHealth(), d.checkGPUHealth()}

	overall := HealthStatusHealthy
	for _, c := range checks {
		switch {
		case c.Status == HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case c.Status == HealthStatusDegraded && overall == HealthStatusHealthy:
			overall = HealthStatusDegraded
		}
	}

	snap := d.state.Snapshot()
	return &HealthResponse{
		Status:     overall,
		Timestamp:  time.Now(),
		Uptime:     time.Since(d.startTime).Round(time.Second).String(),
		Version:    version.Version,
		ActivePIDs: len(snap.PIDs),
		Checks:     checks,
	}
}

func (d *Daemon) checkDaemonHealth() HealthCheck {
	check := HealthCheck{Name: "daemon_status"}
	switch d.GetStatus() {
	case StatusRunning:
		check.Status = HealthStatusHealthy
		check.Message = "Daemon is running normally"
	case StatusStarting, StatusStopping:
		check.Status = HealthStatusDegraded
		check.Message = "Daemon is " + string(d.GetStatus())
	default:
		check.Status = HealthStatusUnhealthy
		check.Message = "Daemon is " + string(d.GetStatus())
	}
	return check
}

func (d *Daemon) checkBusHealth() HealthCheck {
	check := HealthCheck{Name: "dbus"}
	if d.conn != nil && d.conn.Connected() {
		check.Status = HealthStatusHealthy
		return check
	}
	check.Status = HealthStatusUnhealthy
	check.Message = "Not connected to the message bus"
	return check
}

func (d *Daemon) checkGPUHealth() HealthCheck {
	check := HealthCheck{Name: "gpu"}
	switch {
	case d.state.HasGPU():
		check.Status = HealthStatusHealthy
	case !d.GetConfig().Daemon.GPU.Enabled:
		check.Status = HealthStatusHealthy
		check.Message = "GPU tuning disabled"
	default:
		check.Status = HealthStatusDegraded
		check.Message = "GPU unavailable, GPU tuning requests will fail"
	}
	return check
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := d.PerformHealthChecks()
	code := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
