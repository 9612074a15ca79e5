// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/GermanBionicSystems/epaper/frame"
	"github.com/GermanBionicSystems/epaper/pbm"
)

func uniform(c color.Color, w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func countWhite(b frame.Buffer) int {
	n := 0
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			if b.BitAt(x, y) {
				n++
			}
		}
	}
	return n
}

func TestRender(t *testing.T) {
	white := render(uniform(color.White, 64, 148), 0, false)
	if !bytes.Equal(white, frame.New(0xFF)) {
		t.Error("white picture did not render all white")
	}

	black := render(uniform(color.Black, 128, 296), 0, false)
	if !bytes.Equal(black, frame.New(0x00)) {
		t.Error("black picture did not render all black")
	}

	// A wide picture is letterboxed with white.
	wide := render(uniform(color.Black, 296, 128), 0, false)
	if n := countWhite(wide); n == 0 || n == frame.Width*frame.Height {
		t.Errorf("letterboxed picture has %d white pixels", n)
	}
	// Rotated by 90 degrees it fills the panel.
	if n := countWhite(render(uniform(color.Black, 296, 128), 90, false)); n > frame.Width*frame.Height/100 {
		t.Errorf("rotated picture has %d white pixels", n)
	}
}

func TestRenderDither(t *testing.T) {
	// Error diffusion runs in linear light; sRGB 188 is about half
	// luminance.
	gray := uniform(color.Gray{Y: 188}, 128, 296)
	n := countWhite(render(gray, 0, true))
	total := frame.Width * frame.Height
	if n < total/4 || n > 3*total/4 {
		t.Errorf("dithered mid gray has %d of %d white pixels", n, total)
	}
}

func TestBanner(t *testing.T) {
	face, err := loadFace("", 24)
	if err != nil {
		t.Fatal(err)
	}
	img := render(banner("Hello", face), 0, false)
	n := countWhite(img)
	if n == 0 || n == frame.Width*frame.Height {
		t.Errorf("banner has %d white pixels, want some text", n)
	}
	if _, err := loadFace(filepath.Join(t.TempDir(), "missing.ttf"), 12); err == nil {
		t.Error("loadFace() of a missing file succeeded")
	}
}

func TestWrite(t *testing.T) {
	img := frame.New(0xFF)
	img[3] = 0x81
	dir := t.TempDir()
	for _, f := range []string{"P1", "P4"} {
		fn := filepath.Join(dir, f+".pbm")
		if err := write(fn, img, f); err != nil {
			t.Fatal(err)
		}
		r, err := os.Open(fn)
		if err != nil {
			t.Fatal(err)
		}
		bm, _, err := pbm.Decode(r)
		r.Close()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(bm.Data, img) {
			t.Errorf("%s round trip differs", f)
		}
	}

	fn := filepath.Join(dir, "frame.bin")
	if err := write(fn, img, "bin"); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(fn)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, img) {
		t.Error("raw output differs")
	}
	if err := write(filepath.Join(dir, "x"), img, "P6"); err == nil {
		t.Error("write() accepted format P6")
	}
}
