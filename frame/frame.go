// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package frame implements the packed 1-bit frame buffer of a 128x296
// e-paper panel.
//
// A frame is Width/8*Height bytes, row-major, most significant bit first. A
// set bit is a white pixel.
package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/GermanBionicSystems/epaper/pbm"
)

const (
	// Width of the panel in pixels.
	Width = 128
	// Height of the panel in pixels.
	Height = 296
	// Stride is the number of bytes per row.
	Stride = Width / 8
	// Size is the number of bytes of a full frame.
	Size = Stride * Height
)

// Bounds of the panel.
var Bounds = image.Rect(0, 0, Width, Height)

// Buffer is a full panel frame. It implements draw.Image with the
// image1bit color model; image1bit.On is white.
type Buffer []byte

// New returns a frame filled with fill (0xFF is all white).
func New(fill byte) Buffer {
	return Buffer(bytes.Repeat([]byte{fill}, Size))
}

// Valid reports whether the buffer has the exact frame size.
func (b Buffer) Valid() bool {
	return len(b) == Size
}

// ColorModel implements image.Image.
func (b Buffer) ColorModel() color.Model {
	return image1bit.BitModel
}

// Bounds implements image.Image.
func (b Buffer) Bounds() image.Rectangle {
	return Bounds
}

// At implements image.Image.
func (b Buffer) At(x, y int) color.Color {
	return b.BitAt(x, y)
}

// BitAt returns the pixel at x, y. Out of bounds pixels are white.
func (b Buffer) BitAt(x, y int) image1bit.Bit {
	if !(image.Point{X: x, Y: y}).In(Bounds) {
		return image1bit.On
	}
	return image1bit.Bit(b[y*Stride+x/8]&(0x80>>uint(x%8)) != 0)
}

// Set implements draw.Image.
func (b Buffer) Set(x, y int, c color.Color) {
	b.SetBit(x, y, image1bit.BitModel.Convert(c).(image1bit.Bit))
}

// SetBit sets the pixel at x, y. Out of bounds pixels are ignored.
func (b Buffer) SetBit(x, y int, v image1bit.Bit) {
	if !(image.Point{X: x, Y: y}).In(Bounds) {
		return
	}
	i, mask := y*Stride+x/8, byte(0x80>>uint(x%8))
	if v {
		b[i] |= mask
	} else {
		b[i] &^= mask
	}
}

// FromImage converts img into a frame. img is scaled to the panel size when
// its bounds differ; colors are thresholded by image1bit.BitModel.
func FromImage(img image.Image) Buffer {
	b := New(0xFF)
	src := img
	if img.Bounds().Size() != Bounds.Size() {
		dst := image.NewGray(Bounds)
		draw.ApproxBiLinear.Scale(dst, Bounds, img, img.Bounds(), draw.Src, nil)
		src = dst
	}
	draw.Draw(b, Bounds, src, src.Bounds().Min, draw.Src)
	return b
}

// Bitmap returns the frame as a PBM bitmap sharing the same storage.
func (b Buffer) Bitmap() *pbm.Bitmap {
	return &pbm.Bitmap{Width: Width, Height: Height, Data: b}
}

// FromBitmap checks the dimensions of a decoded bitmap and returns its
// pixels as a frame.
func FromBitmap(bm *pbm.Bitmap) (Buffer, error) {
	if bm.Width != Width || bm.Height != Height {
		return nil, fmt.Errorf("frame: bitmap is %dx%d, want %dx%d", bm.Width, bm.Height, Width, Height)
	}
	return Buffer(bm.Data), nil
}
