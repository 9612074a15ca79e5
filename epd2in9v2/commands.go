// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package epd2in9v2

// Commands
const (
	driverOutputControl            byte = 0x01
	gateDrivingVoltageControl      byte = 0x03
	sourceDrivingVoltageControl    byte = 0x04
	deepSleepMode                  byte = 0x10
	dataEntryModeSetting           byte = 0x11
	swReset                        byte = 0x12
	masterActivation               byte = 0x20
	displayUpdateControl1          byte = 0x21
	displayUpdateControl2          byte = 0x22
	writeRAMBW                     byte = 0x24
	writeRAMRed                    byte = 0x26
	writeVCOMRegister              byte = 0x2C
	writeLUTRegister               byte = 0x32
	writeRegisterForDisplayOption  byte = 0x37
	setDummyLinePeriod             byte = 0x3A
	setGateTime                    byte = 0x3B
	borderWaveformControl          byte = 0x3C
	endOptionEOPT                  byte = 0x3F
	setRAMXAddressStartEndPosition byte = 0x44
	setRAMYAddressStartEndPosition byte = 0x45
	setRAMXAddressCounter          byte = 0x4E
	setRAMYAddressCounter          byte = 0x4F
	terminateFrameReadWrite        byte = 0xFF
)

// Sequences for displayUpdateControl2.
const (
	updateFull          byte = 0xC7
	updatePartial       byte = 0x0F
	updateLoadWaveform  byte = 0xC0
	deepSleepRetainRAM  byte = 0x01
	dataEntryIncrementX byte = 0x03
	borderFollowLUT     byte = 0x80
)

// displayOptionPartial is written to writeRegisterForDisplayOption before a
// partial refresh. It is passed through as the vendor documents it.
var displayOptionPartial = []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x40, 0x00, 0x00, 0x00, 0x00}
