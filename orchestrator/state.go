// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package orchestrator

import (
	"errors"
	"fmt"
)

// RefreshState is what the panel is doing.
type RefreshState int

const (
	// IdleAndReady accepts requests.
	IdleAndReady RefreshState = iota
	// UpdatingDisplay is a client image or clear in progress.
	UpdatingDisplay
	// RefreshingScreen is an automatic white refresh in progress.
	RefreshingScreen
	// PowerSaving means the panel is hibernated until the next request.
	PowerSaving
)

var refreshStateNames = [...]string{
	IdleAndReady:     "idle_and_ready",
	UpdatingDisplay:  "updating_display",
	RefreshingScreen: "refreshing_screen",
	PowerSaving:      "power_saving",
}

func (s RefreshState) String() string {
	if s < 0 || int(s) >= len(refreshStateNames) {
		return fmt.Sprintf("RefreshState(%d)", int(s))
	}
	return refreshStateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s RefreshState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RefreshState) UnmarshalText(b []byte) error {
	for i, n := range refreshStateNames {
		if n == string(b) {
			*s = RefreshState(i)
			return nil
		}
	}
	return fmt.Errorf("orchestrator: unknown refresh state %q", b)
}

// DisplayState is the lifecycle of the driver.
type DisplayState int

const (
	// Ready means the orchestrator runs but the panel was never brought up.
	Ready DisplayState = iota
	// Initialized means the driver is up and accepts frames.
	Initialized
	// Sleeping means the panel is in deep sleep and its driver released.
	Sleeping
	// Error means a wake up failed; only Init is accepted.
	Error
	// Stopped means Close was called.
	Stopped
)

var displayStateNames = [...]string{
	Ready:       "ready",
	Initialized: "initialized",
	Sleeping:    "sleeping",
	Error:       "error",
	Stopped:     "stopped",
}

func (s DisplayState) String() string {
	if s < 0 || int(s) >= len(displayStateNames) {
		return fmt.Sprintf("DisplayState(%d)", int(s))
	}
	return displayStateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s DisplayState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *DisplayState) UnmarshalText(b []byte) error {
	for i, n := range displayStateNames {
		if n == string(b) {
			*s = DisplayState(i)
			return nil
		}
	}
	return fmt.Errorf("orchestrator: unknown display state %q", b)
}

var transitions = map[RefreshState][]RefreshState{
	IdleAndReady:     {UpdatingDisplay, RefreshingScreen, PowerSaving},
	UpdatingDisplay:  {IdleAndReady},
	RefreshingScreen: {IdleAndReady},
	PowerSaving:      {IdleAndReady, UpdatingDisplay},
}

// CanTransition reports whether from may be followed by to.
func CanTransition(from, to RefreshState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition matches every TransitionError.
var ErrInvalidTransition = errors.New("orchestrator: invalid state transition")

// TransitionError is returned when an operation is not allowed in the
// current refresh state. The state is left unchanged.
type TransitionError struct {
	From, To RefreshState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("orchestrator: cannot go from %s to %s", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) true.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// transition moves refresh to next if the table allows it.
func transition(refresh *RefreshState, next RefreshState) error {
	if !CanTransition(*refresh, next) {
		return &TransitionError{From: *refresh, To: next}
	}
	*refresh = next
	return nil
}
