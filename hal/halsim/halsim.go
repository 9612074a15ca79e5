// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package halsim is a software stand-in for the panel hardware.
//
// It keeps shadow levels of the control lines, records every bus write,
// answers busy polls from a seeded random source and captures full frames
// written in data mode, optionally as PBM files.
package halsim

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"

	"github.com/GermanBionicSystems/epaper/frame"
	"github.com/GermanBionicSystems/epaper/hal"
	"github.com/GermanBionicSystems/epaper/pbm"
)

// cmdDisplayUpdateControl2 is the opcode whose parameter selects the refresh
// sequence; halsim records it to tell full and partial refreshes apart.
const cmdDisplayUpdateControl2 = 0x22

// FrameSink receives every captured frame.
type FrameSink interface {
	ShowFrame(f Frame) error
}

// Options configures a simulator.
type Options struct {
	// CaptureDir receives one PBM file per frame. Empty disables files;
	// frames are still recorded in memory.
	CaptureDir string
	// Format of the capture files.
	Format pbm.Format
	// BusyProbability is the chance that a busy poll reads High.
	BusyProbability float64
	// Seed of the busy line random source.
	Seed int64
	// RealTime makes Sleep block. Otherwise sleeps are only accounted.
	RealTime bool
	// Sink, if set, is shown every captured frame.
	Sink FrameSink
}

// DefaultOptions is used by New(nil).
var DefaultOptions = Options{
	Format:          pbm.Raw,
	BusyProbability: 0.1,
	Seed:            1,
}

// Frame is a full frame written in data mode.
type Frame struct {
	Session string
	Seq     int
	// Command is the last opcode sent before the frame, i.e. the RAM plane.
	Command byte
	Time    time.Time
	// Path of the capture file, if any.
	Path string
	Data frame.Buffer
}

// HAL is the simulated hal.HAL. Its recorders span every Conn it opened.
type HAL struct {
	opts Options

	mu          sync.Mutex
	rnd         *rand.Rand
	slept       time.Duration
	writes      int
	commands    []byte
	frames      []Frame
	activations []byte
	opened      int
}

var _ hal.HAL = (*HAL)(nil)

// New returns a simulator. A nil opts selects DefaultOptions.
func New(opts *Options) *HAL {
	if opts == nil {
		opts = &DefaultOptions
	}
	o := *opts
	if o.Format == "" {
		o.Format = pbm.Raw
	}
	return &HAL{
		opts: o,
		rnd:  rand.New(rand.NewSource(o.Seed)),
	}
}

// Init implements hal.HAL.
func (h *HAL) Init(cfg *hal.Config) (hal.Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if h.opts.CaptureDir != "" {
		if err := os.MkdirAll(h.opts.CaptureDir, 0o755); err != nil {
			return nil, &hal.OpError{Op: "mkdir", Field: h.opts.CaptureDir, Err: err}
		}
	}
	c := &Conn{
		h:       h,
		cfg:     *cfg,
		session: uuid.NewString(),
		capture: true,
		dc:      gpio.Low,
		rst:     gpio.High,
	}
	h.mu.Lock()
	h.opened++
	h.mu.Unlock()
	log.Debug().Str("session", c.session).Str("bus", cfg.BusDevice).Msg("halsim: opened")
	return c, nil
}

// Sleep implements hal.HAL.
func (h *HAL) Sleep(d time.Duration) {
	h.mu.Lock()
	h.slept += d
	h.mu.Unlock()
	if h.opts.RealTime {
		time.Sleep(d)
	}
}

// SetBusyProbability changes the busy line behavior of every Conn.
func (h *HAL) SetBusyProbability(p float64) {
	h.mu.Lock()
	h.opts.BusyProbability = p
	h.mu.Unlock()
}

// Slept returns the total duration passed to Sleep.
func (h *HAL) Slept() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slept
}

// Writes returns the number of SPIWrite calls.
func (h *HAL) Writes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes
}

// Commands returns every opcode written in command mode.
func (h *HAL) Commands() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.commands...)
}

// Frames returns the captured frames.
func (h *HAL) Frames() []Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Frame(nil), h.frames...)
}

// Activations returns every display update sequence byte written, in order.
// 0xC7 is a full refresh, 0x0F a partial one.
func (h *HAL) Activations() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.activations...)
}

// Opened returns how many connections were opened.
func (h *HAL) Opened() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opened
}

func (h *HAL) busy() gpio.Level {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opts.BusyProbability > 0 && h.rnd.Float64() < h.opts.BusyProbability
}

// Conn is the simulated hal.Conn.
type Conn struct {
	h       *HAL
	cfg     hal.Config
	session string
	capture bool

	dc, rst, pwr gpio.Level
	lastCmd      byte
	frameCount   int
	closed       bool
}

var _ hal.Conn = (*Conn)(nil)

// Session returns the session id used in capture file names.
func (c *Conn) Session() string {
	return c.session
}

// SetCapture enables or disables frame capture.
func (c *Conn) SetCapture(on bool) {
	c.capture = on
}

func (c *Conn) check(op, field string) error {
	if c.closed {
		return &hal.OpError{Op: op, Field: field, Err: hal.ErrClosed}
	}
	return nil
}

// SPIWrite implements hal.Conn.
func (c *Conn) SPIWrite(p []byte) error {
	if err := c.check("spi_write", c.cfg.BusDevice); err != nil {
		return err
	}
	h := c.h
	h.mu.Lock()
	h.writes++
	switch {
	case c.dc == gpio.Low && len(p) == 1:
		c.lastCmd = p[0]
		h.commands = append(h.commands, p[0])
	case c.dc == gpio.High && c.lastCmd == cmdDisplayUpdateControl2 && len(p) == 1:
		h.activations = append(h.activations, p[0])
	}
	h.mu.Unlock()

	if c.dc != gpio.High || len(p) != frame.Size || !c.capture {
		log.Debug().Str("session", c.session).Bool("data", bool(c.dc)).Int("len", len(p)).Msg("halsim: write")
		return nil
	}
	return c.captureFrame(p)
}

func (c *Conn) captureFrame(p []byte) error {
	c.frameCount++
	f := Frame{
		Session: c.session,
		Seq:     c.frameCount,
		Command: c.lastCmd,
		Time:    time.Now(),
		Data:    append(frame.Buffer(nil), p...),
	}
	if dir := c.h.opts.CaptureDir; dir != "" {
		f.Path = filepath.Join(dir, fmt.Sprintf("frame_%s_%06d_%d.pbm", f.Session, f.Seq, f.Time.UnixNano()/int64(time.Millisecond)))
		if err := writeFrame(f.Path, f.Data, c.h.opts.Format); err != nil {
			return &hal.OpError{Op: "capture", Field: f.Path, Err: err}
		}
	}
	c.h.mu.Lock()
	c.h.frames = append(c.h.frames, f)
	c.h.mu.Unlock()

	log.Info().Str("session", f.Session).Int("seq", f.Seq).Str("path", f.Path).Msgf("halsim: captured frame for RAM 0x%02X", f.Command)

	if s := c.h.opts.Sink; s != nil {
		if err := s.ShowFrame(f); err != nil {
			log.Warn().Err(err).Msg("halsim: frame sink failed")
		}
	}
	return nil
}

func writeFrame(path string, data frame.Buffer, format pbm.Format) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return pbm.Encode(f, data.Bitmap(), format)
}

// SetDC implements hal.Conn.
func (c *Conn) SetDC(l gpio.Level) error {
	if err := c.check("gpio_set_dc", "dc_pin"); err != nil {
		return err
	}
	c.dc = l
	return nil
}

// SetRST implements hal.Conn.
func (c *Conn) SetRST(l gpio.Level) error {
	if err := c.check("gpio_set_rst", "rst_pin"); err != nil {
		return err
	}
	c.rst = l
	return nil
}

// ReadBusy implements hal.Conn.
func (c *Conn) ReadBusy() (gpio.Level, error) {
	if err := c.check("gpio_read_busy", "busy_pin"); err != nil {
		return gpio.Low, err
	}
	return c.h.busy(), nil
}

// PowerOn implements hal.Conn.
func (c *Conn) PowerOn() error {
	if err := c.check("gpio_pwr_on", "pwr_pin"); err != nil {
		return err
	}
	c.pwr = gpio.High
	return nil
}

// PowerOff implements hal.Conn.
func (c *Conn) PowerOff() error {
	if err := c.check("gpio_pwr_off", "pwr_pin"); err != nil {
		return err
	}
	c.pwr = gpio.Low
	return nil
}

// Levels returns the shadow levels of the dc, rst and pwr lines.
func (c *Conn) Levels() (dc, rst, pwr gpio.Level) {
	return c.dc, c.rst, c.pwr
}

// Close implements hal.Conn.
func (c *Conn) Close() error {
	if err := c.check("close", ""); err != nil {
		return err
	}
	c.closed = true
	c.pwr = gpio.Low
	log.Debug().Str("session", c.session).Int("frames", c.frameCount).Msg("halsim: closed")
	return nil
}
