// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package epd2in9v2

import (
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/GermanBionicSystems/epaper/frame"
)

// Reset pulse timing from the datasheet.
const (
	resetHigh         = 50 * time.Millisecond
	resetLow          = 2 * time.Millisecond
	partialResetLow   = 1 * time.Millisecond
	partialResetHigh  = 2 * time.Millisecond
	deepSleepSettling = 2 * time.Second
)

type controller interface {
	sendCommand(byte)
	sendData([]byte)
	sendByte(byte)
	rstOut(gpio.Level)
	delay(time.Duration)
	// waitUntilIdle blocks until the busy line is low or timeout passes.
	waitUntilIdle(timeout time.Duration)
}

func reset(ctrl controller) {
	ctrl.rstOut(gpio.High)
	ctrl.delay(resetHigh)
	ctrl.rstOut(gpio.Low)
	ctrl.delay(resetLow)
	ctrl.rstOut(gpio.High)
	ctrl.delay(resetHigh)
}

func initDisplay(ctrl controller, opts *Opts) {
	reset(ctrl)
	ctrl.waitUntilIdle(opts.IdleTimeout)

	ctrl.sendCommand(swReset)
	ctrl.waitUntilIdle(opts.IdleTimeout)

	// Gate lines: Height-1, little endian, then scan direction.
	ctrl.sendCommand(driverOutputControl)
	ctrl.sendData([]byte{(frame.Height - 1) & 0xFF, (frame.Height - 1) >> 8, 0x00})

	ctrl.sendCommand(dataEntryModeSetting)
	ctrl.sendByte(dataEntryIncrementX)

	setWindow(ctrl, 0, 0, frame.Width-1, frame.Height-1)

	ctrl.sendCommand(displayUpdateControl1)
	ctrl.sendData([]byte{0x00, 0x80})

	setCursor(ctrl, 0, 0)
	ctrl.waitUntilIdle(opts.IdleTimeout)

	loadLUT(ctrl, &fullLUT, opts)
}

// loadLUT programs a waveform table and the voltages stored in its tail.
func loadLUT(ctrl controller, lut *LUT, opts *Opts) {
	ctrl.sendCommand(writeLUTRegister)
	ctrl.sendData(lut[:lutRegisterSize])
	ctrl.waitUntilIdle(opts.IdleTimeout)

	ctrl.sendCommand(endOptionEOPT)
	ctrl.sendByte(lut[153])

	ctrl.sendCommand(gateDrivingVoltageControl)
	ctrl.sendByte(lut[154])

	ctrl.sendCommand(sourceDrivingVoltageControl)
	ctrl.sendData(lut[155:158])

	ctrl.sendCommand(writeVCOMRegister)
	ctrl.sendByte(lut[158])
}

// setWindow sets the RAM area written by the following data. x must be a
// multiple of 8.
func setWindow(ctrl controller, x0, y0, x1, y1 int) {
	ctrl.sendCommand(setRAMXAddressStartEndPosition)
	ctrl.sendData([]byte{byte(x0 >> 3), byte(x1 >> 3)})

	ctrl.sendCommand(setRAMYAddressStartEndPosition)
	ctrl.sendData([]byte{byte(y0), byte(y0 >> 8), byte(y1), byte(y1 >> 8)})
}

// setCursor positions the RAM address counter.
func setCursor(ctrl controller, x, y int) {
	ctrl.sendCommand(setRAMXAddressCounter)
	ctrl.sendByte(byte(x >> 3))

	ctrl.sendCommand(setRAMYAddressCounter)
	ctrl.sendData([]byte{byte(y), byte(y >> 8)})
}

func turnOnDisplay(ctrl controller, opts *Opts) {
	ctrl.sendCommand(displayUpdateControl2)
	ctrl.sendByte(updateFull)
	ctrl.sendCommand(masterActivation)
	ctrl.waitUntilIdle(opts.FullRefreshTimeout)
}

func turnOnDisplayPartial(ctrl controller, opts *Opts) {
	ctrl.sendCommand(displayUpdateControl2)
	ctrl.sendByte(updatePartial)
	ctrl.sendCommand(masterActivation)
	ctrl.waitUntilIdle(opts.IdleTimeout)
}

func writeImage(ctrl controller, ram byte, img []byte) {
	ctrl.sendCommand(ram)
	ctrl.sendData(img)
}

func displayFull(ctrl controller, img []byte, opts *Opts) {
	writeImage(ctrl, writeRAMBW, img)
	turnOnDisplay(ctrl, opts)
}

// preparePartial switches the controller to the partial waveform.
func preparePartial(ctrl controller, opts *Opts) {
	ctrl.rstOut(gpio.Low)
	ctrl.delay(partialResetLow)
	ctrl.rstOut(gpio.High)
	ctrl.delay(partialResetHigh)

	loadLUT(ctrl, &partialLUT, opts)

	ctrl.sendCommand(writeRegisterForDisplayOption)
	ctrl.sendData(displayOptionPartial)

	ctrl.sendCommand(borderWaveformControl)
	ctrl.sendByte(borderFollowLUT)

	ctrl.sendCommand(displayUpdateControl2)
	ctrl.sendByte(updateLoadWaveform)
	ctrl.sendCommand(masterActivation)
	ctrl.waitUntilIdle(opts.IdleTimeout)
}

func displayPartial(ctrl controller, img []byte, opts *Opts) {
	preparePartial(ctrl, opts)

	setWindow(ctrl, 0, 0, frame.Width-1, frame.Height-1)
	setCursor(ctrl, 0, 0)

	writeImage(ctrl, writeRAMBW, img)
	turnOnDisplayPartial(ctrl, opts)
}

// clearDisplay writes img to both RAM planes, refreshing after each.
func clearDisplay(ctrl controller, img []byte, opts *Opts) {
	displayFull(ctrl, img, opts)
	writeImage(ctrl, writeRAMRed, img)
	turnOnDisplay(ctrl, opts)
}

func deepSleep(ctrl controller) {
	ctrl.sendCommand(deepSleepMode)
	ctrl.sendByte(deepSleepRetainRAM)
	ctrl.delay(deepSleepSettling)
}
