// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package epd2in9v2

import (
	"errors"
	"fmt"
	"time"

	"github.com/GermanBionicSystems/epaper/frame"
	"github.com/GermanBionicSystems/epaper/hal"
)

// Opts defines the busy line budgets.
type Opts struct {
	// IdleTimeout bounds every wait except the full refresh one.
	IdleTimeout time.Duration
	// FullRefreshTimeout bounds the wait after a full refresh.
	FullRefreshTimeout time.Duration
}

// DefaultOpts is used when New is given nil or zero values.
var DefaultOpts = Opts{
	IdleTimeout:        15 * time.Second,
	FullRefreshTimeout: 25 * time.Second,
}

// Dev is an open handle to the panel.
//
// A Dev is not safe for concurrent use. After Sleep or Close it returns
// ErrClosed; leaving deep sleep takes a new Dev and Init.
type Dev struct {
	h    hal.HAL
	cfg  hal.Config
	opts Opts

	c           hal.Conn
	initialized bool
	closed      bool
}

// New returns a handle to the panel described by cfg. No I/O happens until
// Init.
func New(h hal.HAL, cfg *hal.Config, opts *Opts) (*Dev, error) {
	if h == nil {
		return nil, errors.New("epd2in9v2: nil HAL")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := DefaultOpts
	if opts != nil {
		if opts.IdleTimeout > 0 {
			o.IdleTimeout = opts.IdleTimeout
		}
		if opts.FullRefreshTimeout > 0 {
			o.FullRefreshTimeout = opts.FullRefreshTimeout
		}
	}
	return &Dev{h: h, cfg: *cfg, opts: o}, nil
}

// Init opens the HAL connection if needed and brings up the controller:
// hardware reset, software reset, panel geometry, RAM addressing and the
// full refresh waveform.
//
// Calling Init on an initialized Dev does nothing.
func (d *Dev) Init() error {
	if d.closed {
		return ErrClosed
	}
	if d.initialized {
		return nil
	}
	if d.c == nil {
		c, err := d.h.Init(&d.cfg)
		if err != nil {
			return fmt.Errorf("epd2in9v2: open: %w", err)
		}
		d.c = c
		if err := c.PowerOn(); err != nil {
			return fmt.Errorf("epd2in9v2: power on: %w", err)
		}
	}

	eh := d.handler()
	initDisplay(eh, &d.opts)
	if eh.err != nil {
		return fmt.Errorf("epd2in9v2: init: %w", eh.err)
	}
	d.initialized = true
	return nil
}

// Initialized reports whether Init completed.
func (d *Dev) Initialized() bool {
	return d.initialized
}

// Display writes img and performs a full refresh.
func (d *Dev) Display(img []byte) error {
	if err := d.ready(img); err != nil {
		return err
	}
	eh := d.handler()
	displayFull(eh, img, &d.opts)
	return wrap("display", eh.err)
}

// DisplayPartial writes img and refreshes only the pixels that changed.
//
// Repeated partial refreshes leave ghosting behind; a full refresh now and
// then is up to the caller.
func (d *Dev) DisplayPartial(img []byte) error {
	if err := d.ready(img); err != nil {
		return err
	}
	eh := d.handler()
	displayPartial(eh, img, &d.opts)
	return wrap("display partial", eh.err)
}

// Clear writes img to both RAM planes with a full refresh after each. Use
// frame.New(0xFF) for a white panel.
func (d *Dev) Clear(img []byte) error {
	if err := d.ready(img); err != nil {
		return err
	}
	eh := d.handler()
	clearDisplay(eh, img, &d.opts)
	return wrap("clear", eh.err)
}

// Sleep puts the controller in deep sleep and releases the HAL connection.
// The Dev cannot be used afterwards.
func (d *Dev) Sleep() error {
	if d.closed {
		return ErrClosed
	}
	var err error
	if d.c != nil {
		eh := d.handler()
		deepSleep(eh)
		err = wrap("sleep", eh.err)
	}
	return errors.Join(err, d.release())
}

// Close releases the HAL connection without entering deep sleep.
func (d *Dev) Close() error {
	if d.closed {
		return nil
	}
	return d.release()
}

func (d *Dev) String() string {
	return fmt.Sprintf("epd2in9v2.Dev{%s, %dx%d}", d.cfg.BusDevice, frame.Width, frame.Height)
}

func (d *Dev) ready(img []byte) error {
	if d.closed {
		return ErrClosed
	}
	if len(img) != frame.Size {
		return &InvalidSizeError{Got: len(img)}
	}
	if !d.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (d *Dev) handler() *errorHandler {
	return &errorHandler{h: d.h, c: d.c}
}

func (d *Dev) release() error {
	d.closed = true
	d.initialized = false
	if d.c == nil {
		return nil
	}
	c := d.c
	d.c = nil
	if err := c.Close(); err != nil {
		return fmt.Errorf("epd2in9v2: close: %w", err)
	}
	return nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("epd2in9v2: %s: %w", op, err)
}
