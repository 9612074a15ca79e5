// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package epd2in9v2

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"periph.io/x/conn/v3/gpio"
)

type record struct {
	cmd  byte
	data []byte
}

type fakeController struct {
	records []record
	waits   []time.Duration
	delays  []time.Duration
	rst     []gpio.Level
}

func (r *fakeController) sendCommand(cmd byte) {
	r.records = append(r.records, record{
		cmd: cmd,
	})
}

func (r *fakeController) sendData(data []byte) {
	cur := &r.records[len(r.records)-1]
	cur.data = append(cur.data, data...)
}

func (r *fakeController) sendByte(data byte) {
	cur := &r.records[len(r.records)-1]
	cur.data = append(cur.data, data)
}

func (r *fakeController) rstOut(l gpio.Level) {
	r.rst = append(r.rst, l)
}

func (r *fakeController) delay(d time.Duration) {
	r.delays = append(r.delays, d)
}

func (r *fakeController) waitUntilIdle(timeout time.Duration) {
	r.waits = append(r.waits, timeout)
}

func diffRecords(got, want []record) string {
	return cmp.Diff(got, want, cmpopts.EquateEmpty(), cmp.AllowUnexported(record{}))
}

func lutRecords(lut *LUT) []record {
	return []record{
		{cmd: writeLUTRegister, data: lut[:153]},
		{cmd: endOptionEOPT, data: []byte{0x22}},
		{cmd: gateDrivingVoltageControl, data: []byte{0x17}},
		{cmd: sourceDrivingVoltageControl, data: []byte{0x41, lut[156], 0x32}},
		{cmd: writeVCOMRegister, data: []byte{0x36}},
	}
}

var fullWindow = []record{
	{cmd: setRAMXAddressStartEndPosition, data: []byte{0x00, 0x0F}},
	{cmd: setRAMYAddressStartEndPosition, data: []byte{0x00, 0x00, 0x27, 0x01}},
}

var origin = []record{
	{cmd: setRAMXAddressCounter, data: []byte{0x00}},
	{cmd: setRAMYAddressCounter, data: []byte{0x00, 0x00}},
}

func concat(parts ...[]record) []record {
	var out []record
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestInitDisplay(t *testing.T) {
	var got fakeController
	opts := DefaultOpts

	initDisplay(&got, &opts)

	want := concat(
		[]record{
			{cmd: swReset},
			{cmd: driverOutputControl, data: []byte{0x27, 0x01, 0x00}},
			{cmd: dataEntryModeSetting, data: []byte{0x03}},
		},
		fullWindow,
		[]record{{cmd: displayUpdateControl1, data: []byte{0x00, 0x80}}},
		origin,
		lutRecords(&fullLUT),
	)
	if diff := diffRecords(got.records, want); diff != "" {
		t.Errorf("initDisplay() difference (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(got.rst, []gpio.Level{gpio.High, gpio.Low, gpio.High}); diff != "" {
		t.Errorf("initDisplay() reset difference (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(got.delays, []time.Duration{50 * time.Millisecond, 2 * time.Millisecond, 50 * time.Millisecond}); diff != "" {
		t.Errorf("initDisplay() delays difference (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(got.waits, []time.Duration{opts.IdleTimeout, opts.IdleTimeout, opts.IdleTimeout, opts.IdleTimeout}); diff != "" {
		t.Errorf("initDisplay() waits difference (-got +want):\n%s", diff)
	}
}

func TestLUTTail(t *testing.T) {
	for _, tc := range []struct {
		name string
		lut  *LUT
		want []byte
	}{
		{"full", &fullLUT, []byte{0x22, 0x17, 0x41, 0x00, 0x32, 0x36}},
		{"partial", &partialLUT, []byte{0x22, 0x17, 0x41, 0xB0, 0x32, 0x36}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.lut[153:], tc.want); diff != "" {
				t.Errorf("LUT tail difference (-got +want):\n%s", diff)
			}
			var got fakeController
			loadLUT(&got, tc.lut, &DefaultOpts)
			if diff := diffRecords(got.records, lutRecords(tc.lut)); diff != "" {
				t.Errorf("loadLUT() difference (-got +want):\n%s", diff)
			}
			if len(got.waits) != 1 {
				t.Errorf("loadLUT() waited %d times, want 1", len(got.waits))
			}
		})
	}
}

func TestSetWindow(t *testing.T) {
	for _, tc := range []struct {
		name           string
		x0, y0, x1, y1 int
		want           []record
	}{
		{
			name: "full",
			x1:   127,
			y1:   295,
			want: fullWindow,
		},
		{
			name: "inner",
			x0:   8, y0: 10, x1: 63, y1: 260,
			want: []record{
				{cmd: setRAMXAddressStartEndPosition, data: []byte{0x01, 0x07}},
				{cmd: setRAMYAddressStartEndPosition, data: []byte{0x0A, 0x00, 0x04, 0x01}},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var got fakeController
			setWindow(&got, tc.x0, tc.y0, tc.x1, tc.y1)
			if diff := diffRecords(got.records, tc.want); diff != "" {
				t.Errorf("setWindow() difference (-got +want):\n%s", diff)
			}
		})
	}
}

func TestSetCursor(t *testing.T) {
	var got fakeController
	setCursor(&got, 16, 290)
	want := []record{
		{cmd: setRAMXAddressCounter, data: []byte{0x02}},
		{cmd: setRAMYAddressCounter, data: []byte{0x22, 0x01}},
	}
	if diff := diffRecords(got.records, want); diff != "" {
		t.Errorf("setCursor() difference (-got +want):\n%s", diff)
	}
}

func TestDisplayFull(t *testing.T) {
	img := bytes.Repeat([]byte{0xAA}, 4736)
	var got fakeController
	opts := Opts{IdleTimeout: time.Second, FullRefreshTimeout: 3 * time.Second}

	displayFull(&got, img, &opts)

	want := []record{
		{cmd: writeRAMBW, data: img},
		{cmd: displayUpdateControl2, data: []byte{0xC7}},
		{cmd: masterActivation},
	}
	if diff := diffRecords(got.records, want); diff != "" {
		t.Errorf("displayFull() difference (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(got.waits, []time.Duration{3 * time.Second}); diff != "" {
		t.Errorf("displayFull() waits difference (-got +want):\n%s", diff)
	}
}

func TestDisplayPartial(t *testing.T) {
	img := bytes.Repeat([]byte{0x0F}, 4736)
	var got fakeController
	opts := DefaultOpts

	displayPartial(&got, img, &opts)

	want := concat(
		lutRecords(&partialLUT),
		[]record{
			{cmd: writeRegisterForDisplayOption, data: []byte{0, 0, 0, 0, 0, 0x40, 0, 0, 0, 0}},
			{cmd: borderWaveformControl, data: []byte{0x80}},
			{cmd: displayUpdateControl2, data: []byte{0xC0}},
			{cmd: masterActivation},
		},
		fullWindow,
		origin,
		[]record{
			{cmd: writeRAMBW, data: img},
			{cmd: displayUpdateControl2, data: []byte{0x0F}},
			{cmd: masterActivation},
		},
	)
	if diff := diffRecords(got.records, want); diff != "" {
		t.Errorf("displayPartial() difference (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(got.rst, []gpio.Level{gpio.Low, gpio.High}); diff != "" {
		t.Errorf("displayPartial() reset difference (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(got.delays, []time.Duration{time.Millisecond, 2 * time.Millisecond}); diff != "" {
		t.Errorf("displayPartial() delays difference (-got +want):\n%s", diff)
	}
	for _, w := range got.waits {
		if w != opts.IdleTimeout {
			t.Errorf("displayPartial() waited with %v, want %v", w, opts.IdleTimeout)
		}
	}
}

func TestClear(t *testing.T) {
	img := bytes.Repeat([]byte{0xFF}, 4736)
	var got fakeController

	clearDisplay(&got, img, &DefaultOpts)

	want := []record{
		{cmd: writeRAMBW, data: img},
		{cmd: displayUpdateControl2, data: []byte{0xC7}},
		{cmd: masterActivation},
		{cmd: writeRAMRed, data: img},
		{cmd: displayUpdateControl2, data: []byte{0xC7}},
		{cmd: masterActivation},
	}
	if diff := diffRecords(got.records, want); diff != "" {
		t.Errorf("clearDisplay() difference (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(got.waits, []time.Duration{25 * time.Second, 25 * time.Second}); diff != "" {
		t.Errorf("clearDisplay() waits difference (-got +want):\n%s", diff)
	}
}

func TestDeepSleep(t *testing.T) {
	var got fakeController

	deepSleep(&got)

	if diff := diffRecords(got.records, []record{{cmd: deepSleepMode, data: []byte{0x01}}}); diff != "" {
		t.Errorf("deepSleep() difference (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(got.delays, []time.Duration{2 * time.Second}); diff != "" {
		t.Errorf("deepSleep() delays difference (-got +want):\n%s", diff)
	}
}
