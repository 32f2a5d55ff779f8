package config

import (
	"os"
	"strings"
)

// SchedulerEnabled controls whether the in-process scheduler sweep runs.
// Disable when a dedicated sweeper job (cmd/run-sweeper) owns scheduling.
//
// Set via env:
// - SCHEDULER_ENABLED=false
func SchedulerEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SCHEDULER_ENABLED")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// StallSweepEnabled controls the background sweep that fails stalled runs.
//
// Set via env:
// - STALL_SWEEP_ENABLED=false
func StallSweepEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STALL_SWEEP_ENABLED")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
