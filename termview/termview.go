// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package termview previews panel frames on a terminal using ANSI color
// codes.
//
// It is a display.Drawer the size of the panel and a halsim.FrameSink, so
// the simulator can show every frame it captures.
package termview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"sync"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/display"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/GermanBionicSystems/epaper/frame"
	"github.com/GermanBionicSystems/epaper/hal/halsim"
)

// Opts represents the options available for the preview.
type Opts struct {
	// Scale keeps one pixel out of Scale in each direction. Defaults to 4.
	Scale int
	// Palette defaults to ansi256.Default.
	Palette *ansi256.Palette
	// W defaults to a colorable stdout.
	W io.Writer
}

// Dev draws a panel sized image at the console.
type Dev struct {
	w       io.Writer
	scale   int
	palette ansi256.Palette

	mu     sync.Mutex
	pixels frame.Buffer
	buf    bytes.Buffer
}

// New returns a Dev that displays at the console.
func New(opts *Opts) *Dev {
	var o Opts
	if opts != nil {
		o = *opts
	}
	if o.Scale <= 0 {
		o.Scale = 4
	}
	if o.Palette == nil {
		o.Palette = ansi256.Default
	}
	if o.W == nil {
		o.W = colorable.NewColorableStdout()
	}
	return &Dev{
		w:       o.W,
		scale:   o.Scale,
		palette: *o.Palette,
		pixels:  frame.New(0xFF),
	}
}

func (d *Dev) String() string {
	return "TermView"
}

// Halt resets the terminal colors.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\033[0m\n"))
	return err
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return image1bit.BitModel
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return frame.Bounds
}

// Draw implements display.Drawer.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	draw.Draw(d.pixels, r.Intersect(frame.Bounds), src, sp, draw.Src)
	return d.refresh("")
}

// ShowFrame implements halsim.FrameSink.
func (d *Dev) ShowFrame(f halsim.Frame) error {
	if !f.Data.Valid() {
		return fmt.Errorf("termview: frame is %d bytes, want %d", len(f.Data), frame.Size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.pixels, f.Data)
	return d.refresh(fmt.Sprintf("%s #%d RAM 0x%02X", f.Session, f.Seq, f.Command))
}

func (d *Dev) refresh(title string) error {
	black := d.palette.Block(color.NRGBA{A: 255})
	white := d.palette.Block(color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	d.buf.Reset()
	if title != "" {
		_, _ = fmt.Fprintf(&d.buf, "\033[0m%s\n", title)
	}
	for y := 0; y < frame.Height; y += d.scale {
		for x := 0; x < frame.Width; x += d.scale {
			if d.pixels.BitAt(x, y) {
				_, _ = d.buf.WriteString(white)
			} else {
				_, _ = d.buf.WriteString(black)
			}
		}
		_, _ = d.buf.WriteString("\033[0m\n")
	}
	_, err := d.buf.WriteTo(d.w)
	return err
}

var _ display.Drawer = &Dev{}
var _ halsim.FrameSink = &Dev{}
var _ fmt.Stringer = &Dev{}
