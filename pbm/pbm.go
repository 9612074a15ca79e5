// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pbm reads and writes 1-bit portable bitmaps.
//
// Both the plain ("P1") and the raw ("P4") variants are supported. Pixel data
// is carried as packed rows, MSB first, each row padded to a whole byte, the
// same layout panel frame buffers use. Bits are copied as they are: no
// inversion happens in either direction.
//
// Format: http://netpbm.sourceforge.net/doc/pbm.html
package pbm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Format selects the PBM variant.
type Format string

const (
	// Plain is the ASCII variant, one '0' or '1' per pixel.
	Plain Format = "P1"
	// Raw is the binary variant, packed rows.
	Raw Format = "P4"
)

// ParseFormat accepts "P1"/"plain" and "P4"/"raw".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "P1", "p1", "plain", "ascii":
		return Plain, nil
	case "P4", "p4", "raw", "binary", "":
		return Raw, nil
	}
	return "", fmt.Errorf("pbm: unknown format %q", s)
}

// Bitmap is a packed 1-bit image.
type Bitmap struct {
	Width, Height int
	// Data holds Height rows of (Width+7)/8 bytes.
	Data []byte
}

// Stride returns the number of bytes per row.
func (b *Bitmap) Stride() int {
	return (b.Width + 7) / 8
}

// Bit returns the bit at x, y.
func (b *Bitmap) Bit(x, y int) bool {
	return b.Data[y*b.Stride()+x/8]&(0x80>>uint(x%8)) != 0
}

var errShort = errors.New("pbm: data shorter than dimensions")

// Encode writes b to w in format f.
func Encode(w io.Writer, b *Bitmap, f Format) error {
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("pbm: invalid dimensions %dx%d", b.Width, b.Height)
	}
	if len(b.Data) < b.Stride()*b.Height {
		return errShort
	}
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%s\n%d %d\n", f, b.Width, b.Height); err != nil {
		return err
	}
	switch f {
	case Raw:
		if _, err := bw.Write(b.Data[:b.Stride()*b.Height]); err != nil {
			return err
		}
	case Plain:
		line := make([]byte, 0, 2*b.Width)
		for y := 0; y < b.Height; y++ {
			line = line[:0]
			for x := 0; x < b.Width; x++ {
				if x > 0 {
					line = append(line, ' ')
				}
				if b.Bit(x, y) {
					line = append(line, '1')
				} else {
					line = append(line, '0')
				}
			}
			line = append(line, '\n')
			if _, err := bw.Write(line); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("pbm: unknown format %q", f)
	}
	return bw.Flush()
}

// MaxDimension bounds the width and height Decode accepts.
const MaxDimension = 1 << 14

// ErrSize is returned for a header whose dimensions are out of bounds or not
// the expected ones.
var ErrSize = errors.New("pbm: unexpected dimensions")

// Decode reads a P1 or P4 bitmap from r. Width and height are limited to
// MaxDimension.
func Decode(r io.Reader) (*Bitmap, Format, error) {
	return decode(r, 0, 0)
}

// DecodeSize reads a P1 or P4 bitmap from r and fails with ErrSize, before
// reading any pixel, unless it is width by height.
func DecodeSize(r io.Reader, width, height int) (*Bitmap, Format, error) {
	return decode(r, width, height)
}

func decode(r io.Reader, width, height int) (*Bitmap, Format, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, 2)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, "", fmt.Errorf("pbm: reading magic: %w", err)
	}
	f := Format(magic)
	if f != Plain && f != Raw {
		return nil, "", fmt.Errorf("pbm: unsupported magic %q", magic)
	}
	w, err := readInt(br)
	if err != nil {
		return nil, "", fmt.Errorf("pbm: reading width: %w", err)
	}
	h, err := readInt(br)
	if err != nil {
		return nil, "", fmt.Errorf("pbm: reading height: %w", err)
	}
	if w <= 0 || h <= 0 || w > MaxDimension || h > MaxDimension {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrSize, w, h)
	}
	if width > 0 && (w != width || h != height) {
		return nil, "", fmt.Errorf("%w: %dx%d, want %dx%d", ErrSize, w, h, width, height)
	}
	b := &Bitmap{Width: w, Height: h}
	b.Data = make([]byte, b.Stride()*h)

	if f == Raw {
		// Exactly one whitespace byte separates the header from the raster;
		// readInt consumed it.
		if _, err := io.ReadFull(br, b.Data); err != nil {
			return nil, "", fmt.Errorf("pbm: reading raster: %w", err)
		}
		return b, f, nil
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c, err := nextPlainBit(br)
			if err != nil {
				return nil, "", fmt.Errorf("pbm: reading pixel (%d,%d): %w", x, y, err)
			}
			if c == '1' {
				b.Data[y*b.Stride()+x/8] |= 0x80 >> uint(x%8)
			}
		}
	}
	return b, f, nil
}

// readInt skips whitespace and comments, then reads a decimal number and the
// single delimiter that follows it.
func readInt(br *bufio.Reader) (int, error) {
	if err := skipSpace(br); err != nil {
		return 0, err
	}
	var digits []byte
	for {
		c, err := br.ReadByte()
		if err == io.EOF && len(digits) > 0 {
			break
		}
		if err != nil {
			return 0, err
		}
		if c < '0' || c > '9' {
			if !isSpace(c) {
				return 0, fmt.Errorf("unexpected byte %q", c)
			}
			break
		}
		digits = append(digits, c)
	}
	return strconv.Atoi(string(digits))
}

func nextPlainBit(br *bufio.Reader) (byte, error) {
	if err := skipSpace(br); err != nil {
		return 0, err
	}
	c, err := br.ReadByte()
	if err != nil {
		return 0, err
	}
	if c != '0' && c != '1' {
		return 0, fmt.Errorf("unexpected byte %q", c)
	}
	return c, nil
}

func skipSpace(br *bufio.Reader) error {
	for {
		c, err := br.ReadByte()
		if err != nil {
			return err
		}
		switch {
		case isSpace(c):
		case c == '#':
			if _, err := br.ReadString('\n'); err != nil {
				return err
			}
		default:
			return br.UnreadByte()
		}
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}
