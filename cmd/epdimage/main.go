// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// epdimage converts a picture or a text banner into a packed frame for the
// 2.9" panel, written as a PBM file or raw bytes ready for POST /image.
package main

import (
	"bufio"
	"flag"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/GermanBionicSystems/epaper/frame"
	"github.com/GermanBionicSystems/epaper/pbm"
)

var (
	in       = flag.String("in", "", "PNG or JPEG `file` to convert")
	out      = flag.String("out", "frame.pbm", "output `file`")
	text     = flag.String("text", "", "text to render instead of -in")
	fontFile = flag.String("font", "", "TrueType `file` for -text; defaults to Go Mono Bold")
	fontSize = flag.Float64("size", 24, "font size in points for -text")
	rotate   = flag.Float64("rotate", 0.0, "image rotation in degrees")
	dithered = flag.Bool("dither", false, "dither gray levels instead of thresholding")
	format   = flag.String("format", "P4", "PBM format, P1 or P4, or \"bin\" for the raw frame")
)

func main() {
	flag.Parse()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var src image.Image
	switch {
	case *text != "":
		face, err := loadFace(*fontFile, *fontSize)
		if err != nil {
			log.Fatal().Err(err).Str("font", *fontFile).Msg("epdimage: loading font")
		}
		src = banner(*text, face)
	case *in != "":
		f, err := os.Open(*in)
		if err != nil {
			log.Fatal().Err(err).Msg("epdimage")
		}
		src, _, err = image.Decode(bufio.NewReader(f))
		f.Close()
		if err != nil {
			log.Fatal().Err(err).Str("in", *in).Msg("epdimage: decoding")
		}
	default:
		log.Fatal().Msg("epdimage: one of -in or -text is required")
	}

	img := render(src, *rotate, *dithered)
	if err := write(*out, img, *format); err != nil {
		log.Fatal().Err(err).Str("out", *out).Msg("epdimage: writing")
	}
	log.Info().Str("out", *out).Str("format", *format).Msg("epdimage: wrote frame")
}

func write(path string, img frame.Buffer, f string) (err error) {
	w, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()
	if f == "bin" {
		_, err = w.Write(img)
		return err
	}
	pf, err := pbm.ParseFormat(f)
	if err != nil {
		return err
	}
	return pbm.Encode(w, img.Bitmap(), pf)
}
