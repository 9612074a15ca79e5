// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package orchestrator owns a panel and decides how to refresh it.
//
// One goroutine holds the driver and all state; every exported method posts
// a request to it and waits for the reply, so bus access is serialized
// without locks. Partial refreshes are used while ghosting is bounded: a
// full refresh is forced when none happened yet, when the last one is older
// than FullRefreshAge, or after MaxPartialUpdates partial ones.
//
// Two timers run next to client requests. The refresh timer redraws the
// panel white every RefreshInterval; the power-save timer hibernates the
// panel after PowerSaveInterval without requests. The next request after
// hibernation brings the panel up again first.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/GermanBionicSystems/epaper/epd2in9v2"
	"github.com/GermanBionicSystems/epaper/frame"
	"github.com/GermanBionicSystems/epaper/hal"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator: closed")
	// ErrNotInitialized is returned by drawing requests before Init.
	ErrNotInitialized = errors.New("orchestrator: display not initialized")
	// ErrRecoveryRequired is returned while the display is in the error
	// state. Init recovers.
	ErrRecoveryRequired = errors.New("orchestrator: display in error state, Init required")
)

// Options configures an Orchestrator. Zero fields take the DefaultOptions
// value.
type Options struct {
	// RefreshInterval between automatic white refreshes. Negative disables.
	RefreshInterval time.Duration
	// PowerSaveInterval without requests before hibernating. Negative
	// disables.
	PowerSaveInterval time.Duration
	// FullRefreshAge is the age of the last full refresh past which the
	// next image is drawn with a full refresh.
	FullRefreshAge time.Duration
	// MaxPartialUpdates in a row before a full refresh is forced.
	MaxPartialUpdates int

	// Driver options passed to every new epd2in9v2.Dev.
	Driver *epd2in9v2.Opts
	// Registerer receives the metrics, if set.
	Registerer prometheus.Registerer
	// OnStatus is called from the orchestrator goroutine after every state
	// change. It must not call back into the Orchestrator.
	OnStatus func(Status)
	// Now is the clock for the refresh policy and status times.
	Now func() time.Time
}

// DefaultOptions are the production intervals.
var DefaultOptions = Options{
	RefreshInterval:   3 * time.Minute,
	PowerSaveInterval: 5 * time.Minute,
	FullRefreshAge:    3 * time.Minute,
	MaxPartialUpdates: 5,
}

type opKind int

const (
	opInit opKind = iota
	opClear
	opShowImage
	opSleep
	opStatus
	opClose
	opRefreshTimer
	opPowerSaveTimer
)

var opNames = [...]string{
	opInit:           "init",
	opClear:          "clear",
	opShowImage:      "show_image",
	opSleep:          "sleep",
	opStatus:         "status",
	opClose:          "close",
	opRefreshTimer:   "auto_refresh",
	opPowerSaveTimer: "power_save",
}

func (k opKind) String() string {
	return opNames[k]
}

type request struct {
	op   opKind
	img  []byte
	fill byte
	// gen identifies the timer arming that posted a timer request.
	gen   uint64
	reply chan response
}

type response struct {
	mode   string
	status Status
	err    error
}

type timer struct {
	t        *time.Timer
	gen      uint64
	deadline time.Time
}

func (t *timer) armed() bool {
	return t.t != nil
}

// Orchestrator serializes all access to one panel.
type Orchestrator struct {
	h    hal.HAL
	cfg  hal.Config
	opts Options
	m    *metrics

	reqs chan request
	done chan struct{}

	// Owned by run.
	dev          *epd2in9v2.Dev
	display      DisplayState
	refresh      RefreshState
	partialCount int
	lastFull     time.Time
	lastRefresh  time.Time
	lastActivity time.Time
	refreshTimer timer
	powerTimer   timer
	gen          uint64
}

// New validates cfg and starts the orchestrator goroutine. The panel is not
// touched until Init.
func New(h hal.HAL, cfg *hal.Config, opts *Options) (*Orchestrator, error) {
	if h == nil {
		return nil, errors.New("orchestrator: nil HAL")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := DefaultOptions
	if opts != nil {
		o = mergeOptions(*opts)
	}
	m, err := newMetrics(o.Registerer)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: registering metrics: %w", err)
	}
	orc := &Orchestrator{
		h:    h,
		cfg:  *cfg,
		opts: o,
		m:    m,
		reqs: make(chan request),
		done: make(chan struct{}),
	}
	go orc.run()
	return orc, nil
}

func mergeOptions(o Options) Options {
	if o.RefreshInterval == 0 {
		o.RefreshInterval = DefaultOptions.RefreshInterval
	}
	if o.PowerSaveInterval == 0 {
		o.PowerSaveInterval = DefaultOptions.PowerSaveInterval
	}
	if o.FullRefreshAge == 0 {
		o.FullRefreshAge = DefaultOptions.FullRefreshAge
	}
	if o.MaxPartialUpdates == 0 {
		o.MaxPartialUpdates = DefaultOptions.MaxPartialUpdates
	}
	return o
}

// Init brings the panel up. It wakes a hibernated panel and is the only
// request accepted in the error state. On an initialized panel it does
// nothing.
func (o *Orchestrator) Init(ctx context.Context) error {
	_, err := o.call(ctx, request{op: opInit})
	return err
}

// Clear fills both RAM planes with fill and does a full refresh.
func (o *Orchestrator) Clear(ctx context.Context, fill byte) error {
	_, err := o.call(ctx, request{op: opClear, fill: fill})
	return err
}

// ShowImage draws a packed frame and returns the refresh mode used,
// ModeFull or ModePartial.
func (o *Orchestrator) ShowImage(ctx context.Context, img []byte) (string, error) {
	r, err := o.call(ctx, request{op: opShowImage, img: img})
	return r.mode, err
}

// Sleep hibernates the panel now instead of waiting for the power-save
// timer.
func (o *Orchestrator) Sleep(ctx context.Context) error {
	_, err := o.call(ctx, request{op: opSleep})
	return err
}

// Status returns a snapshot of the orchestrator state.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	r, err := o.call(ctx, request{op: opStatus})
	return r.status, err
}

// Close stops the timers, releases the panel without hibernating it and
// stops the goroutine.
func (o *Orchestrator) Close() error {
	_, err := o.call(context.Background(), request{op: opClose})
	return err
}

// call posts req and waits for the reply. ctx bounds the wait only; a
// sequence already running on the bus is never interrupted.
func (o *Orchestrator) call(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)
	select {
	case o.reqs <- req:
	case <-o.done:
		return response{}, ErrClosed
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r, r.err
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

func (o *Orchestrator) post(req request) {
	select {
	case o.reqs <- req:
	case <-o.done:
	}
}

func (o *Orchestrator) run() {
	defer close(o.done)
	log.Debug().Str("bus", o.cfg.BusDevice).Msg("orchestrator: started")
	defer log.Debug().Str("bus", o.cfg.BusDevice).Msg("orchestrator: stopped")

	for req := range o.reqs {
		r := o.handle(req)
		if req.reply != nil {
			req.reply <- r
		}
		if req.op == opClose {
			return
		}
		if req.op != opStatus && o.opts.OnStatus != nil {
			o.opts.OnStatus(o.status())
		}
	}
}

func (o *Orchestrator) handle(req request) response {
	var r response
	switch req.op {
	case opInit:
		r.err = o.doInit()
	case opClear:
		r.mode, r.err = o.doClear(req.fill)
	case opShowImage:
		r.mode, r.err = o.doShowImage(req.img)
	case opSleep:
		r.err = o.doSleep()
	case opStatus:
		r.status = o.status()
	case opClose:
		r.err = o.doClose()
	case opRefreshTimer:
		if !o.fired(&o.refreshTimer, req) {
			return r
		}
		o.autoRefresh()
	case opPowerSaveTimer:
		if !o.fired(&o.powerTimer, req) {
			return r
		}
		o.powerSave()
	}
	if r.err != nil {
		log.Warn().Err(r.err).Stringer("op", req.op).Stringer("refresh_state", o.refresh).
			Stringer("display_state", o.display).Msg("orchestrator: request failed")
	}
	return r
}

func (o *Orchestrator) doInit() error {
	switch o.display {
	case Initialized:
		if err := o.dev.Init(); err != nil {
			return err
		}
	case Ready, Sleeping, Error:
		if err := o.bringUp(); err != nil {
			o.display = Error
			return err
		}
		if o.refresh == PowerSaving {
			if err := transition(&o.refresh, IdleAndReady); err != nil {
				return err
			}
		}
	}
	o.touch(o.now())
	return nil
}

func (o *Orchestrator) doClear(fill byte) (string, error) {
	if err := o.begin(UpdatingDisplay); err != nil {
		return "", err
	}
	now := o.now()
	start := time.Now()
	err := o.dev.Clear(frame.New(fill))
	o.m.observe(ModeClear, start, err, opClear.String())
	o.finish()
	if err != nil {
		return "", err
	}
	o.fullRefreshDone(now)
	o.touch(now)
	log.Info().Hex("fill", []byte{fill}).Msg("orchestrator: cleared")
	return ModeClear, nil
}

func (o *Orchestrator) doShowImage(img []byte) (string, error) {
	if err := o.usable(); err != nil {
		return "", err
	}
	if len(img) != frame.Size {
		return "", &epd2in9v2.InvalidSizeError{Got: len(img)}
	}
	if err := o.begin(UpdatingDisplay); err != nil {
		return "", err
	}

	now := o.now()
	mode := ModePartial
	if o.needsFullRefresh(now) {
		mode = ModeFull
	}
	start := time.Now()
	var err error
	if mode == ModeFull {
		err = o.dev.Display(img)
	} else {
		err = o.dev.DisplayPartial(img)
	}
	o.m.observe(mode, start, err, opShowImage.String())
	o.finish()
	if err != nil {
		return mode, err
	}

	if mode == ModeFull {
		o.fullRefreshDone(now)
	} else {
		o.partialCount++
		o.lastRefresh = now
		o.m.partial.Set(float64(o.partialCount))
	}
	o.touch(now)
	log.Info().Str("mode", mode).Int("partial_updates", o.partialCount).Msg("orchestrator: image shown")
	return mode, nil
}

func (o *Orchestrator) doSleep() error {
	if o.display == Sleeping {
		return nil
	}
	if err := o.usable(); err != nil {
		return err
	}
	if err := transition(&o.refresh, PowerSaving); err != nil {
		return err
	}
	o.lastActivity = o.now()
	return o.hibernate()
}

func (o *Orchestrator) doClose() error {
	o.disarm(&o.refreshTimer)
	o.disarm(&o.powerTimer)
	o.display = Stopped
	if o.dev == nil {
		return nil
	}
	err := o.dev.Close()
	o.dev = nil
	return err
}

// needsFullRefresh caps ghosting from consecutive partial refreshes.
func (o *Orchestrator) needsFullRefresh(now time.Time) bool {
	return o.lastFull.IsZero() ||
		now.Sub(o.lastFull) > o.opts.FullRefreshAge ||
		o.partialCount >= o.opts.MaxPartialUpdates
}

func (o *Orchestrator) fullRefreshDone(now time.Time) {
	o.partialCount = 0
	o.lastFull = now
	o.lastRefresh = now
	o.m.partial.Set(0)
}

// usable returns the error for a drawing request in the current display
// state.
func (o *Orchestrator) usable() error {
	switch o.display {
	case Initialized, Sleeping:
		return nil
	case Error:
		return ErrRecoveryRequired
	default:
		return ErrNotInitialized
	}
}

// begin enters next, bringing the panel up first when it was hibernated.
func (o *Orchestrator) begin(next RefreshState) error {
	if err := o.usable(); err != nil {
		return err
	}
	waking := o.refresh == PowerSaving
	if err := transition(&o.refresh, next); err != nil {
		return err
	}
	if !waking {
		return nil
	}
	if err := o.bringUp(); err != nil {
		o.display = Error
		o.finish()
		return fmt.Errorf("orchestrator: wake up: %w", err)
	}
	return nil
}

// finish returns to idle_and_ready after a sequence, failed or not.
func (o *Orchestrator) finish() {
	if err := transition(&o.refresh, IdleAndReady); err != nil {
		log.Error().Err(err).Msg("orchestrator: returning to idle")
	}
}

// bringUp replaces the driver with a fresh one and initializes it.
func (o *Orchestrator) bringUp() error {
	if o.dev != nil {
		if err := o.dev.Close(); err != nil {
			log.Warn().Err(err).Msg("orchestrator: releasing previous driver")
		}
		o.dev = nil
	}
	d, err := epd2in9v2.New(o.h, &o.cfg, o.opts.Driver)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := d.Init(); err != nil {
		o.m.errors.WithLabelValues(opInit.String()).Inc()
		if cerr := d.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("orchestrator: releasing driver after failed init")
		}
		return err
	}
	o.dev = d
	o.display = Initialized
	log.Info().Stringer("dev", d).Dur("took", time.Since(start)).Msg("orchestrator: panel up")
	return nil
}

// hibernate puts the panel in deep sleep and drops the driver. A failing
// deep sleep sequence still releases the HAL.
func (o *Orchestrator) hibernate() error {
	o.disarm(&o.refreshTimer)
	o.disarm(&o.powerTimer)
	err := o.dev.Sleep()
	o.dev = nil
	o.display = Sleeping
	if err != nil {
		o.m.errors.WithLabelValues(opSleep.String()).Inc()
		return err
	}
	log.Info().Msg("orchestrator: panel hibernated")
	return nil
}

func (o *Orchestrator) autoRefresh() {
	if o.display != Initialized || o.refresh != IdleAndReady {
		log.Debug().Stringer("refresh_state", o.refresh).Stringer("display_state", o.display).
			Msg("orchestrator: skipping auto refresh")
		return
	}
	if err := transition(&o.refresh, RefreshingScreen); err != nil {
		log.Error().Err(err).Msg("orchestrator: auto refresh")
		return
	}
	now := o.now()
	start := time.Now()
	err := o.dev.Clear(frame.New(0xFF))
	o.m.observe(ModeAuto, start, err, opRefreshTimer.String())
	o.finish()
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: auto refresh failed")
	} else {
		o.fullRefreshDone(now)
		log.Info().Msg("orchestrator: auto refresh")
	}
	o.arm(&o.refreshTimer, o.opts.RefreshInterval, opRefreshTimer)
}

func (o *Orchestrator) powerSave() {
	if o.display != Initialized || o.refresh != IdleAndReady {
		log.Debug().Stringer("refresh_state", o.refresh).Stringer("display_state", o.display).
			Msg("orchestrator: skipping power save")
		return
	}
	if err := transition(&o.refresh, PowerSaving); err != nil {
		log.Error().Err(err).Msg("orchestrator: power save")
		return
	}
	if err := o.hibernate(); err != nil {
		log.Warn().Err(err).Msg("orchestrator: power save")
	}
}

// touch records a successful client request and rearms both timers.
func (o *Orchestrator) touch(now time.Time) {
	o.lastActivity = now
	o.arm(&o.refreshTimer, o.opts.RefreshInterval, opRefreshTimer)
	o.arm(&o.powerTimer, o.opts.PowerSaveInterval, opPowerSaveTimer)
}

// arm cancels t and schedules it again. Each arming gets a new generation
// so that a fire already queued for a previous arming is dropped.
func (o *Orchestrator) arm(t *timer, d time.Duration, op opKind) {
	o.disarm(t)
	if d < 0 {
		return
	}
	o.gen++
	gen := o.gen
	t.gen = gen
	t.deadline = o.now().Add(d)
	t.t = time.AfterFunc(d, func() {
		o.post(request{op: op, gen: gen})
	})
}

func (o *Orchestrator) disarm(t *timer) {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

// fired reports whether req is the pending fire of t, and disarms t if so.
func (o *Orchestrator) fired(t *timer, req request) bool {
	if !t.armed() || t.gen != req.gen {
		log.Debug().Stringer("op", req.op).Uint64("gen", req.gen).Msg("orchestrator: dropping stale timer")
		return false
	}
	t.t = nil
	return true
}

func (o *Orchestrator) now() time.Time {
	if o.opts.Now != nil {
		return o.opts.Now()
	}
	return time.Now()
}

func (o *Orchestrator) status() Status {
	s := Status{
		Initialized:         o.display == Initialized,
		DisplayState:        o.display,
		RefreshState:        o.refresh,
		PartialUpdateCount:  o.partialCount,
		LastRefreshTime:     o.lastRefresh,
		LastFullRefreshTime: o.lastFull,
		LastActivityTime:    o.lastActivity,
	}
	now := o.now()
	if o.refreshTimer.armed() {
		s.TimersArmed.Refresh = true
		s.TimeToNextEvents.Refresh = until(now, o.refreshTimer.deadline)
	}
	if o.powerTimer.armed() {
		s.TimersArmed.PowerSave = true
		s.TimeToNextEvents.PowerSave = until(now, o.powerTimer.deadline)
	}
	return s
}

func until(now, t time.Time) time.Duration {
	if d := t.Sub(now); d > 0 {
		return d
	}
	return 0
}
