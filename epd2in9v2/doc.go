// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package epd2in9v2 controls the Waveshare 2.9" V2 e-paper panel, a 128x296
// monochrome display driven by an SSD1680 class controller.
//
// The driver talks to the panel through a hal.Conn and never touches the
// bus directly, so the same code runs on hardware (halperiph) and on the
// simulator (halsim).
//
// Images are packed frame.Buffer values: 16 bytes per row, 296 rows, most
// significant bit first, a set bit being white.
//
// Datasheet
//
// https://www.waveshare.com/w/upload/7/79/2.9inch-e-paper-v2-specification.pdf
//
// Product page
//
// https://www.waveshare.com/wiki/2.9inch_e-Paper_Module
package epd2in9v2
