// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package orchestrator

import "time"

// Status is a snapshot of the orchestrator for monitoring.
type Status struct {
	Initialized        bool         `json:"initialized"`
	DisplayState       DisplayState `json:"display_state"`
	RefreshState       RefreshState `json:"refresh_state"`
	PartialUpdateCount int          `json:"partial_update_count"`
	// LastRefreshTime is the last successful refresh of any kind.
	LastRefreshTime     time.Time        `json:"last_refresh_time"`
	LastFullRefreshTime time.Time        `json:"last_full_refresh_time"`
	LastActivityTime    time.Time        `json:"last_activity_time"`
	TimersArmed         TimersArmed      `json:"timers_armed"`
	TimeToNextEvents    TimeToNextEvents `json:"time_to_next_events"`
}

// TimersArmed tells which timers are pending.
type TimersArmed struct {
	Refresh   bool `json:"refresh"`
	PowerSave bool `json:"power_save"`
}

// TimeToNextEvents is the time left on each armed timer, zero otherwise.
type TimeToNextEvents struct {
	Refresh   time.Duration `json:"refresh"`
	PowerSave time.Duration `json:"power_save"`
}
