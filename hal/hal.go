// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hal defines the primitive bus and pin operations a panel driver
// needs, independent of whether they reach real hardware or a simulator.
//
// A HAL opens a Conn from a Config. The Conn is the only handle to the bus
// and its control lines; it is passed explicitly to every protocol step and
// released by Close.
package hal

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// HAL opens connections to a panel.
type HAL interface {
	// Init validates cfg and opens the bus and control lines.
	Init(cfg *Config) (Conn, error)
	// Sleep blocks for d. Simulators may account for d without waiting.
	Sleep(d time.Duration)
}

// Conn is an opened bus with its data/command, reset, busy and power lines.
//
// A Conn is not safe for concurrent use; it has exactly one owner.
type Conn interface {
	// SPIWrite sends p on the bus.
	SPIWrite(p []byte) error
	// SetDC drives the data/command line: Low selects command, High data.
	SetDC(l gpio.Level) error
	// SetRST drives the reset line.
	SetRST(l gpio.Level) error
	// ReadBusy samples the busy line. High means the controller is busy.
	ReadBusy() (gpio.Level, error)
	// PowerOn drives the power line High.
	PowerOn() error
	// PowerOff drives the power line Low.
	PowerOff() error
	// Close releases the bus and every line.
	Close() error
}
