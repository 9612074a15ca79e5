// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"image"
	"image/color"
	"os"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/makeworld-the-better-one/dither"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/opentype"

	"github.com/GermanBionicSystems/epaper/frame"
)

// render fits src on a white panel sized canvas, rotated by rotate degrees,
// and packs it. With dithered set, gray levels are error diffused instead
// of thresholded.
func render(src image.Image, rotate float64, dithered bool) frame.Buffer {
	rot := imaging.Rotate(src, rotate, color.White)
	fit := imaging.Fit(rot, frame.Width, frame.Height, imaging.Lanczos)
	var img image.Image = imaging.PasteCenter(imaging.New(frame.Width, frame.Height, color.White), fit)
	if dithered {
		d := dither.NewDitherer([]color.Color{color.Black, color.White})
		d.Matrix = dither.FloydSteinberg
		d.Serpentine = true
		if tmp := d.DitherPaletted(img); tmp != nil {
			img = tmp
		}
	}
	return frame.FromImage(img)
}

// banner draws text wrapped and centered on a white panel sized image.
func banner(text string, face font.Face) image.Image {
	dc := gg.NewContextForImage(imaging.New(frame.Width, frame.Height, color.White))
	dc.SetFontFace(face)
	dc.SetRGB(0, 0, 0)
	dc.DrawStringWrapped(text, frame.Width/2, frame.Height/2, 0.5, 0.5, frame.Width-8, 1.0, gg.AlignCenter)
	return dc.Image()
}

// loadFace returns a face of the TrueType file at path, or Go Mono Bold when
// path is empty.
func loadFace(path string, size float64) (font.Face, error) {
	if path == "" {
		f, err := opentype.Parse(gomonobold.TTF)
		if err != nil {
			return nil, err
		}
		return opentype.NewFace(f, &opentype.FaceOptions{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingNone,
		})
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := truetype.Parse(raw)
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(f, &truetype.Options{Size: size}), nil
}
