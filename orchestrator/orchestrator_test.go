// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/GermanBionicSystems/epaper/epd2in9v2"
	"github.com/GermanBionicSystems/epaper/frame"
	"github.com/GermanBionicSystems/epaper/hal"
	"github.com/GermanBionicSystems/epaper/hal/halsim"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	h     *halsim.HAL
	clock *fakeClock
	o     *Orchestrator
}

// newFixture returns an orchestrator on a simulator whose busy line never
// reads high. Timers are an hour away unless opts says otherwise.
func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		h:     halsim.New(&halsim.Options{}),
		clock: &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
	}
	if opts.RefreshInterval == 0 {
		opts.RefreshInterval = time.Hour
	}
	if opts.PowerSaveInterval == 0 {
		opts.PowerSaveInterval = time.Hour
	}
	opts.Now = f.clock.Now
	o, err := New(f.h, &hal.DefaultConfig, &opts)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	f.o = o
	t.Cleanup(func() {
		if err := o.Close(); err != nil && !errors.Is(err, ErrClosed) {
			t.Errorf("Close() failed: %v", err)
		}
	})
	return f
}

func (f *fixture) init(t *testing.T) {
	t.Helper()
	if err := f.o.Init(context.Background()); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
}

func (f *fixture) status(t *testing.T) Status {
	t.Helper()
	s, err := f.o.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	return s
}

// waitFor polls Status until cond holds.
func (f *fixture) waitFor(t *testing.T, what string, cond func(Status) bool) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		s := f.status(t)
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, status %+v", what, s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := hal.DefaultConfig
	cfg.BusDevice = ""
	_, err := New(halsim.New(nil), &cfg, nil)
	var ce *hal.ConfigError
	if !errors.As(err, &ce) {
		t.Errorf("New() error = %v, want ConfigError", err)
	}
}

func TestBeforeInit(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.o.ShowImage(ctx, frame.New(0xFF)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ShowImage() = %v, want ErrNotInitialized", err)
	}
	if err := f.o.Clear(ctx, 0xFF); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Clear() = %v, want ErrNotInitialized", err)
	}
	s := f.status(t)
	if s.DisplayState != Ready || s.Initialized || s.TimersArmed.Refresh || s.TimersArmed.PowerSave {
		t.Errorf("Status() = %+v, want ready without timers", s)
	}
	if f.h.Opened() != 0 {
		t.Errorf("HAL opened %d times before Init()", f.h.Opened())
	}
}

func TestInitTwice(t *testing.T) {
	f := newFixture(t, Options{})
	f.init(t)
	writes := f.h.Writes()
	f.init(t)
	if got := f.h.Writes(); got != writes {
		t.Errorf("second Init() wrote %d times, want 0", got-writes)
	}
	s := f.status(t)
	if !s.Initialized || s.DisplayState != Initialized || s.RefreshState != IdleAndReady {
		t.Errorf("Status() = %+v", s)
	}
	if !s.TimersArmed.Refresh || !s.TimersArmed.PowerSave {
		t.Errorf("timers not armed after Init(): %+v", s.TimersArmed)
	}
}

func TestRefreshPolicy(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.init(t)

	if err := f.o.Clear(ctx, 0xFF); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if got := f.status(t).PartialUpdateCount; got != 0 {
		t.Errorf("PartialUpdateCount after Clear() = %d, want 0", got)
	}

	img := frame.New(0xFF)
	for i := 1; i <= 5; i++ {
		img[i] = 0x00
		mode, err := f.o.ShowImage(ctx, img)
		if err != nil {
			t.Fatalf("ShowImage() #%d failed: %v", i, err)
		}
		if mode != ModePartial {
			t.Errorf("ShowImage() #%d mode = %s, want partial", i, mode)
		}
		if got := f.status(t).PartialUpdateCount; got != i {
			t.Errorf("PartialUpdateCount after #%d = %d", i, got)
		}
	}
	mode, err := f.o.ShowImage(ctx, img)
	if err != nil {
		t.Fatal(err)
	}
	if mode != ModeFull {
		t.Errorf("sixth ShowImage() mode = %s, want full", mode)
	}
	if got := f.status(t).PartialUpdateCount; got != 0 {
		t.Errorf("PartialUpdateCount after full refresh = %d, want 0", got)
	}

	// Clear draws two planes, then 5 partial frames and 1 full one.
	if got := len(f.h.Frames()); got != 2+5+1 {
		t.Errorf("captured %d frames, want 8", got)
	}
	want := []byte{0xC7, 0xC7}
	for i := 0; i < 5; i++ {
		want = append(want, 0xC0, 0x0F)
	}
	want = append(want, 0xC7)
	if diff := cmp.Diff(f.h.Activations(), want); diff != "" {
		t.Errorf("activations difference (-got +want):\n%s", diff)
	}
}

func TestFullRefreshPolicy(t *testing.T) {
	for _, tc := range []struct {
		name  string
		setup func(f *fixture) error
		want  string
	}{
		{
			name:  "no prior full refresh",
			setup: func(*fixture) error { return nil },
			want:  ModeFull,
		},
		{
			name: "recent full refresh",
			setup: func(f *fixture) error {
				return f.o.Clear(context.Background(), 0xFF)
			},
			want: ModePartial,
		},
		{
			name: "full refresh too old",
			setup: func(f *fixture) error {
				if err := f.o.Clear(context.Background(), 0xFF); err != nil {
					return err
				}
				f.clock.Advance(3*time.Minute + time.Second)
				return nil
			},
			want: ModeFull,
		},
		{
			name: "full refresh exactly at the limit",
			setup: func(f *fixture) error {
				if err := f.o.Clear(context.Background(), 0xFF); err != nil {
					return err
				}
				f.clock.Advance(3 * time.Minute)
				return nil
			},
			want: ModePartial,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			f.init(t)
			if err := tc.setup(f); err != nil {
				t.Fatal(err)
			}
			mode, err := f.o.ShowImage(context.Background(), frame.New(0x00))
			if err != nil {
				t.Fatal(err)
			}
			if mode != tc.want {
				t.Errorf("ShowImage() mode = %s, want %s", mode, tc.want)
			}
		})
	}
}

func TestInvalidImage(t *testing.T) {
	f := newFixture(t, Options{})
	f.init(t)
	writes := f.h.Writes()

	_, err := f.o.ShowImage(context.Background(), make([]byte, frame.Size-1))
	if !errors.Is(err, epd2in9v2.ErrInvalidImageSize) {
		t.Errorf("ShowImage() = %v, want ErrInvalidImageSize", err)
	}
	if got := f.h.Writes(); got != writes {
		t.Errorf("invalid image caused %d writes", got-writes)
	}
	if s := f.status(t); s.RefreshState != IdleAndReady {
		t.Errorf("RefreshState = %s, want idle_and_ready", s.RefreshState)
	}
}

func TestTimeout(t *testing.T) {
	f := newFixture(t, Options{})
	f.init(t)
	f.h.SetBusyProbability(1)

	_, err := f.o.ShowImage(context.Background(), frame.New(0xFF))
	if !errors.Is(err, epd2in9v2.ErrTimeout) {
		t.Fatalf("ShowImage() = %v, want ErrTimeout", err)
	}
	s := f.status(t)
	if s.RefreshState != IdleAndReady || s.DisplayState != Initialized {
		t.Errorf("after timeout: %s/%s, want idle_and_ready/initialized", s.RefreshState, s.DisplayState)
	}

	f.h.SetBusyProbability(0)
	if _, err := f.o.ShowImage(context.Background(), frame.New(0xFF)); err != nil {
		t.Errorf("ShowImage() after timeout failed: %v", err)
	}
}

func TestPowerSave(t *testing.T) {
	f := newFixture(t, Options{PowerSaveInterval: 20 * time.Millisecond})
	f.init(t)

	s := f.waitFor(t, "power_saving", func(s Status) bool { return s.RefreshState == PowerSaving })
	if s.DisplayState != Sleeping || s.Initialized {
		t.Errorf("DisplayState = %s, want sleeping", s.DisplayState)
	}
	if s.TimersArmed.Refresh || s.TimersArmed.PowerSave {
		t.Errorf("timers armed while sleeping: %+v", s.TimersArmed)
	}
	cmds := f.h.Commands()
	if last := cmds[len(cmds)-1]; last != 0x10 {
		t.Errorf("last command = %#x, want deep sleep 0x10", last)
	}

	// The next request brings the panel up on a new connection first.
	mode, err := f.o.ShowImage(context.Background(), frame.New(0xFF))
	if err != nil {
		t.Fatalf("ShowImage() after power save failed: %v", err)
	}
	if mode != ModeFull {
		t.Errorf("mode = %s, want full", mode)
	}
	if got := f.h.Opened(); got != 2 {
		t.Errorf("Opened() = %d, want 2", got)
	}
	// A second init sequence starts with a software reset.
	resets := bytes.Count(f.h.Commands(), []byte{0x12})
	if resets != 2 {
		t.Errorf("%d software resets, want 2", resets)
	}
}

func TestSleepAndWake(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.init(t)

	if err := f.o.Sleep(ctx); err != nil {
		t.Fatalf("Sleep() failed: %v", err)
	}
	if err := f.o.Sleep(ctx); err != nil {
		t.Errorf("second Sleep() = %v, want nil", err)
	}
	if s := f.status(t); s.RefreshState != PowerSaving || s.DisplayState != Sleeping {
		t.Errorf("after Sleep(): %s/%s", s.RefreshState, s.DisplayState)
	}

	f.init(t)
	if s := f.status(t); s.RefreshState != IdleAndReady || s.DisplayState != Initialized {
		t.Errorf("after Init(): %s/%s", s.RefreshState, s.DisplayState)
	}

	if err := f.o.Sleep(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.o.Clear(ctx, 0x00); err != nil {
		t.Fatalf("Clear() while sleeping failed: %v", err)
	}
	if s := f.status(t); s.RefreshState != IdleAndReady || s.DisplayState != Initialized {
		t.Errorf("after Clear(): %s/%s", s.RefreshState, s.DisplayState)
	}
}

func TestWakeFailure(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.init(t)
	if err := f.o.Sleep(ctx); err != nil {
		t.Fatal(err)
	}

	f.h.SetBusyProbability(1)
	if _, err := f.o.ShowImage(ctx, frame.New(0xFF)); !errors.Is(err, epd2in9v2.ErrTimeout) {
		t.Fatalf("ShowImage() = %v, want wake up timeout", err)
	}
	s := f.status(t)
	if s.DisplayState != Error || s.RefreshState != IdleAndReady {
		t.Errorf("after failed wake up: %s/%s, want error/idle_and_ready", s.DisplayState, s.RefreshState)
	}
	if err := f.o.Clear(ctx, 0xFF); !errors.Is(err, ErrRecoveryRequired) {
		t.Errorf("Clear() in error state = %v, want ErrRecoveryRequired", err)
	}

	f.h.SetBusyProbability(0)
	f.init(t)
	if err := f.o.Clear(ctx, 0xFF); err != nil {
		t.Errorf("Clear() after recovery failed: %v", err)
	}
}

func TestAutoRefresh(t *testing.T) {
	f := newFixture(t, Options{RefreshInterval: 20 * time.Millisecond})
	f.init(t)

	deadline := time.Now().Add(5 * time.Second)
	for len(f.h.Activations()) < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("auto refresh did not run twice, activations %x", f.h.Activations())
		}
		time.Sleep(5 * time.Millisecond)
	}
	for _, a := range f.h.Activations() {
		if a != 0xC7 {
			t.Errorf("auto refresh activation %#x, want full 0xC7", a)
		}
	}
	for _, fr := range f.h.Frames() {
		if !bytes.Equal(fr.Data, frame.New(0xFF)) {
			t.Errorf("auto refresh frame %d is not white", fr.Seq)
			break
		}
	}
	s := f.status(t)
	if s.LastFullRefreshTime.IsZero() || s.DisplayState != Initialized {
		t.Errorf("Status() = %+v", s)
	}
}

func TestStaleTimer(t *testing.T) {
	f := newFixture(t, Options{})
	f.init(t)

	// A fire from an earlier arming is dropped.
	f.o.post(request{op: opPowerSaveTimer, gen: 0})
	f.o.post(request{op: opRefreshTimer, gen: 0})

	s := f.status(t)
	if s.RefreshState != IdleAndReady || !s.TimersArmed.PowerSave || !s.TimersArmed.Refresh {
		t.Errorf("stale timer changed state: %+v", s)
	}
	if got := len(f.h.Activations()); got != 0 {
		t.Errorf("stale refresh timer drew %d times", got)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, Options{Registerer: reg})
	ctx := context.Background()
	f.init(t)

	if err := f.o.Clear(ctx, 0xFF); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := f.o.ShowImage(ctx, frame.New(0x00)); err != nil {
			t.Fatal(err)
		}
	}
	f.h.SetBusyProbability(1)
	if _, err := f.o.ShowImage(ctx, frame.New(0x00)); err == nil {
		t.Fatal("ShowImage() with busy panel succeeded")
	}

	for _, tc := range []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"clear", f.o.m.refreshes.WithLabelValues(ModeClear), 1},
		{"partial", f.o.m.refreshes.WithLabelValues(ModePartial), 2},
		{"full", f.o.m.refreshes.WithLabelValues(ModeFull), 0},
		{"errors", f.o.m.errors.WithLabelValues("show_image"), 1},
		{"gauge", f.o.m.partial, 2},
	} {
		if got := testutil.ToFloat64(tc.c); got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, got, tc.want)
		}
	}
	if n, err := testutil.GatherAndCount(reg, "epaper_refresh_duration_seconds"); err != nil || n != 2 {
		t.Errorf("GatherAndCount(duration) = %d, %v; want 2 series", n, err)
	}
}

func TestOnStatus(t *testing.T) {
	var mu sync.Mutex
	var got []RefreshState
	f := newFixture(t, Options{OnStatus: func(s Status) {
		mu.Lock()
		got = append(got, s.RefreshState)
		mu.Unlock()
	}})
	ctx := context.Background()
	f.init(t)
	if err := f.o.Sleep(ctx); err != nil {
		t.Fatal(err)
	}
	f.status(t)

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(got, []RefreshState{IdleAndReady, PowerSaving}); diff != "" {
		t.Errorf("OnStatus states difference (-got +want):\n%s", diff)
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t, Options{})
	f.init(t)
	if err := f.o.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := f.o.Init(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Init() after Close() = %v, want ErrClosed", err)
	}
	if _, err := f.o.Status(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Status() after Close() = %v, want ErrClosed", err)
	}
}

func TestContextCancelled(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.o.Status(ctx); err == nil {
		t.Log("Status() raced the cancelled context and won")
	} else if !errors.Is(err, context.Canceled) {
		t.Errorf("Status() = %v, want context.Canceled", err)
	}
}

func TestStatusTimersFollowClock(t *testing.T) {
	f := newFixture(t, Options{RefreshInterval: time.Hour, PowerSaveInterval: 2 * time.Hour})
	f.init(t)
	f.clock.Advance(20 * time.Minute)

	st, err := f.o.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := TimeToNextEvents{Refresh: 40 * time.Minute, PowerSave: 100 * time.Minute}
	if diff := cmp.Diff(st.TimeToNextEvents, want); diff != "" {
		t.Errorf("TimeToNextEvents difference (-got +want):\n%s", diff)
	}

	f.clock.Advance(3 * time.Hour)
	if st, err = f.o.Status(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(st.TimeToNextEvents, TimeToNextEvents{}); diff != "" {
		t.Errorf("overdue TimeToNextEvents difference (-got +want):\n%s", diff)
	}
}
