package tuning

import "time"

// Status is the daemon state reported by the Status RPC.
type Status struct {
	Active               bool      `json:"active"`
	PIDs                 []int     `json:"pids"`
	GPU                  string    `json:"gpu,omitempty"`
	BaselinePowerLimitMW *uint32   `json:"baseline_power_limit_mw,omitempty"`
	BaselineEPP          string    `json:"baseline_epp,omitempty"`
	PendingRestore       []string  `json:"pending_restore,omitempty"`
	Watchdogs            int       `json:"watchdogs"`
	LastApplied          time.Time `json:"last_applied,omitzero"`
	Version              string    `json:"version"`
}
