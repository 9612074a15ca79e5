// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package halperiph implements hal.HAL on real SPI and GPIO through
// periph.io.
//
// Pins given as (chip, offset) pairs are looked up on the GPIO character
// devices; legacy numbers are resolved through the GPIO registry as
// "GPIO<n>".
package halperiph

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/gpioioctl"

	"github.com/GermanBionicSystems/epaper/hal"
)

const (
	// Frequency of the bus. The controller accepts up to 20MHz for writes;
	// wire length limits what is usable.
	Frequency = 4 * physic.MegaHertz
	// MaxChunk bounds a single bus transfer.
	MaxChunk = 4000
	// SettleDelay follows a transfer that had to be split.
	SettleDelay = 50 * time.Millisecond
)

// HAL is the periph.io backed hal.HAL.
type HAL struct{}

var _ hal.HAL = HAL{}

// New returns the hardware HAL.
func New() HAL {
	return HAL{}
}

// Sleep implements hal.HAL.
func (HAL) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Init implements hal.HAL.
func (h HAL) Init(cfg *hal.Config) (hal.Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := host.Init(); err != nil {
		return nil, &hal.OpError{Op: "host.Init", Err: err}
	}
	if err := checkCharDevice(cfg.BusDevice); err != nil {
		return nil, err
	}

	var pins [4]gpio.PinIO
	for i, np := range []struct {
		name string
		pin  hal.Pin
	}{
		{"pwr_pin", cfg.PWR},
		{"dc_pin", cfg.DC},
		{"rst_pin", cfg.RST},
		{"busy_pin", cfg.Busy},
	} {
		p, err := lookupPin(np.name, np.pin)
		if err != nil {
			return nil, err
		}
		pins[i] = p
	}
	pwr, dc, rst, busy := pins[0], pins[1], pins[2], pins[3]

	for _, o := range []struct {
		name string
		pin  gpio.PinOut
	}{
		{"pwr_pin", pwr},
		{"dc_pin", dc},
		{"rst_pin", rst},
	} {
		if err := o.pin.Out(gpio.Low); err != nil {
			closeAll(pins[:])
			return nil, &hal.OpError{Op: "Out", Field: o.name, Err: err}
		}
	}
	if err := busy.In(gpio.PullDown, gpio.NoEdge); err != nil {
		closeAll(pins[:])
		return nil, &hal.OpError{Op: "In", Field: "busy_pin", Err: err}
	}
	if err := pwr.Out(gpio.High); err != nil {
		closeAll(pins[:])
		return nil, &hal.OpError{Op: "Out", Field: "pwr_pin", Err: err}
	}

	port, err := spireg.Open(cfg.BusDevice)
	if err != nil {
		closeAll(pins[:])
		return nil, &hal.OpError{Op: "spireg.Open", Field: cfg.BusDevice, Err: err}
	}
	c, err := port.Connect(Frequency, spi.Mode0, 8)
	if err != nil {
		connErr := &hal.OpError{Op: "Connect", Field: cfg.BusDevice, Err: err}
		if err := port.Close(); err != nil {
			log.Warn().Err(err).Str("bus", cfg.BusDevice).Msg("halperiph: closing port after failed connect")
		}
		closeAll(pins[:])
		return nil, connErr
	}
	log.Info().Str("bus", cfg.BusDevice).Str("dc", cfg.DC.String()).Str("rst", cfg.RST.String()).
		Str("busy", cfg.Busy.String()).Str("pwr", cfg.PWR.String()).Msg("halperiph: opened")
	return newConn(cfg, h, port, c, pwr, dc, rst, busy), nil
}

func checkCharDevice(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return &hal.ConfigError{Field: "bus_device", Reason: err.Error()}
	}
	if fi.Mode()&os.ModeCharDevice == 0 {
		return &hal.ConfigError{Field: "bus_device", Reason: fmt.Sprintf("%s is not a character device", path)}
	}
	return nil
}

func lookupPin(field string, p hal.Pin) (gpio.PinIO, error) {
	if p.IsLegacy() {
		name := fmt.Sprintf("GPIO%d", p.Offset)
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, &hal.ConfigError{Field: field, Reason: fmt.Sprintf("no such pin %s", name)}
		}
		return pin, nil
	}
	for _, chip := range gpioioctl.Chips {
		if chip.Name() != p.Chip {
			continue
		}
		for _, line := range chip.Lines() {
			if line.Number() == p.Offset {
				return line, nil
			}
		}
		return nil, &hal.ConfigError{Field: field, Reason: fmt.Sprintf("%s has no line %d", p.Chip, p.Offset)}
	}
	return nil, &hal.ConfigError{Field: field, Reason: fmt.Sprintf("no GPIO chip named %q", p.Chip)}
}

func closeAll(pins []gpio.PinIO) {
	for _, p := range pins {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Str("pin", p.String()).Msg("halperiph: closing pin")
			}
		}
	}
}

// Conn is the periph.io backed hal.Conn.
type Conn struct {
	cfg   hal.Config
	h     hal.HAL
	port  io.Closer
	c     spi.Conn
	limit int

	pwr, dc, rst gpio.PinOut
	busy         gpio.PinIn

	closed bool
}

var _ hal.Conn = (*Conn)(nil)

func newConn(cfg *hal.Config, h hal.HAL, port io.Closer, c spi.Conn, pwr, dc, rst gpio.PinOut, busy gpio.PinIn) *Conn {
	limit := MaxChunk
	if l, ok := c.(conn.Limits); ok {
		if n := l.MaxTxSize(); n > 0 && n < limit {
			limit = n
		}
	}
	return &Conn{
		cfg:   *cfg,
		h:     h,
		port:  port,
		c:     c,
		limit: limit,
		pwr:   pwr,
		dc:    dc,
		rst:   rst,
		busy:  busy,
	}
}

// NewConn wraps already opened periph resources. port may be nil. Sleep
// calls for the settling delay go to h.
func NewConn(cfg *hal.Config, h hal.HAL, port io.Closer, c spi.Conn, pwr, dc, rst gpio.PinOut, busy gpio.PinIn) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c == nil || pwr == nil || dc == nil || rst == nil || busy == nil {
		return nil, errors.New("halperiph: nil bus or pin")
	}
	return newConn(cfg, h, port, c, pwr, dc, rst, busy), nil
}

func (c *Conn) check(op, field string) error {
	if c.closed {
		return &hal.OpError{Op: op, Field: field, Err: hal.ErrClosed}
	}
	return nil
}

// SPIWrite implements hal.Conn. Payloads above the transfer limit are sent
// as back-to-back chunks followed by SettleDelay.
func (c *Conn) SPIWrite(p []byte) error {
	if err := c.check("spi_write", c.cfg.BusDevice); err != nil {
		return err
	}
	if len(p) <= c.limit {
		if err := c.c.Tx(p, nil); err != nil {
			return &hal.OpError{Op: "spi_write", Field: c.cfg.BusDevice, Err: err}
		}
		return nil
	}
	for i := 0; i < len(p); i += c.limit {
		j := i + c.limit
		if j > len(p) {
			j = len(p)
		}
		if err := c.c.Tx(p[i:j], nil); err != nil {
			return &hal.OpError{Op: "spi_write", Field: c.cfg.BusDevice, Err: fmt.Errorf("chunk at %d: %w", i, err)}
		}
	}
	c.h.Sleep(SettleDelay)
	return nil
}

// ChunkSize returns the transfer limit in use.
func (c *Conn) ChunkSize() int {
	return c.limit
}

// SetDC implements hal.Conn.
func (c *Conn) SetDC(l gpio.Level) error {
	return c.out("gpio_set_dc", "dc_pin", c.dc, l)
}

// SetRST implements hal.Conn.
func (c *Conn) SetRST(l gpio.Level) error {
	return c.out("gpio_set_rst", "rst_pin", c.rst, l)
}

// PowerOn implements hal.Conn.
func (c *Conn) PowerOn() error {
	return c.out("gpio_pwr_on", "pwr_pin", c.pwr, gpio.High)
}

// PowerOff implements hal.Conn.
func (c *Conn) PowerOff() error {
	return c.out("gpio_pwr_off", "pwr_pin", c.pwr, gpio.Low)
}

func (c *Conn) out(op, field string, p gpio.PinOut, l gpio.Level) error {
	if err := c.check(op, field); err != nil {
		return err
	}
	if err := p.Out(l); err != nil {
		return &hal.OpError{Op: op, Field: field, Err: err}
	}
	return nil
}

// ReadBusy implements hal.Conn.
func (c *Conn) ReadBusy() (gpio.Level, error) {
	if err := c.check("gpio_read_busy", "busy_pin"); err != nil {
		return gpio.Low, err
	}
	return c.busy.Read(), nil
}

// Close implements hal.Conn. The control lines are driven Low before they
// are released.
func (c *Conn) Close() error {
	if err := c.check("close", ""); err != nil {
		return err
	}
	c.closed = true

	var errs []error
	for _, o := range []struct {
		name string
		pin  gpio.PinOut
	}{
		{"pwr_pin", c.pwr},
		{"dc_pin", c.dc},
		{"rst_pin", c.rst},
	} {
		if err := o.pin.Out(gpio.Low); err != nil {
			errs = append(errs, &hal.OpError{Op: "close", Field: o.name, Err: err})
		}
	}
	if c.port != nil {
		if err := c.port.Close(); err != nil {
			errs = append(errs, &hal.OpError{Op: "close", Field: c.cfg.BusDevice, Err: err})
		}
	}
	for _, p := range []interface{}{c.pwr, c.dc, c.rst, c.busy} {
		if cl, ok := p.(io.Closer); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, &hal.OpError{Op: "close", Err: err})
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Conn) String() string {
	return fmt.Sprintf("halperiph.Conn{%s, %s}", c.cfg.BusDevice, c.c)
}
