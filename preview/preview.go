// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package preview streams the panel content over HTTP.
//
// Clients get the current frame on connect and a new one on every change,
// as a "multipart/x-mixed-replace" stream ("MJPEG" style, as IP cameras
// do). Frames are sent as PNG by default, or as binary PBM with
// "?format=pbm".
//
// A Stream is a display.Drawer the size of the panel and a
// halsim.FrameSink, so it can show what the simulator captures.
package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	"periph.io/x/conn/v3/display"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/GermanBionicSystems/epaper/frame"
	"github.com/GermanBionicSystems/epaper/hal/halsim"
	"github.com/GermanBionicSystems/epaper/pbm"
)

// Format of the streamed frames.
type Format int

const (
	// PNG frames, scaled by Options.Scale.
	PNG Format = iota
	// PBM frames, binary P4 at panel size.
	PBM
)

func (f Format) String() string {
	switch f {
	case PNG:
		return "png"
	case PBM:
		return "pbm"
	default:
		return fmt.Sprint(int(f))
	}
}

func (f Format) mimeType() string {
	switch f {
	case PNG:
		return "image/png"
	case PBM:
		return "image/x-portable-bitmap"
	}
	return "application/octet-stream"
}

// ParseFormat returns the Format named by s.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "png":
		return PNG, nil
	case "pbm":
		return PBM, nil
	}
	return PNG, fmt.Errorf("preview: unknown format %q", s)
}

// Options for a Stream.
type Options struct {
	// Format used when the client does not ask for one.
	Format Format
	// Scale enlarges PNG frames. Defaults to 2.
	Scale int
}

// Stream holds the last frame and the connected clients.
type Stream struct {
	format Format
	scale  int

	mu       sync.Mutex
	pixels   frame.Buffer
	seq      int
	clients  map[*client]struct{}
	snapshot map[Format][]byte
}

var (
	_ display.Drawer   = (*Stream)(nil)
	_ halsim.FrameSink = (*Stream)(nil)
	_ http.Handler     = (*Stream)(nil)
)

type client struct {
	refresh   chan struct{}
	terminate chan struct{}
}

// New returns a Stream showing a white panel.
func New(opts *Options) *Stream {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Scale <= 0 {
		o.Scale = 2
	}
	return &Stream{
		format:   o.Format,
		scale:    o.Scale,
		pixels:   frame.New(0xFF),
		clients:  map[*client]struct{}{},
		snapshot: map[Format][]byte{},
	}
}

func (s *Stream) String() string {
	return "Preview"
}

// Halt ends every running client request.
func (s *Stream) Halt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.terminate <- struct{}{}:
		default:
		}
	}
	return nil
}

// ColorModel implements display.Drawer.
func (s *Stream) ColorModel() color.Model {
	return image1bit.BitModel
}

// Bounds implements display.Drawer.
func (s *Stream) Bounds() image.Rectangle {
	return frame.Bounds
}

// Draw implements display.Drawer.
func (s *Stream) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	draw.Draw(s.pixels, r, src, sp, draw.Src)
	s.changedLocked()
	return nil
}

// ShowFrame implements halsim.FrameSink.
func (s *Stream) ShowFrame(f halsim.Frame) error {
	if !f.Data.Valid() {
		return fmt.Errorf("preview: frame of %d bytes", len(f.Data))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.pixels, f.Data)
	s.changedLocked()
	return nil
}

// Clients returns the number of connected clients.
func (s *Stream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Stream) changedLocked() {
	s.seq++
	for f := range s.snapshot {
		delete(s.snapshot, f)
	}
	for c := range s.clients {
		select {
		case c.refresh <- struct{}{}:
		default:
		}
	}
}

func (s *Stream) encodeLocked(f Format) ([]byte, error) {
	var buf bytes.Buffer
	switch f {
	case PNG:
		b := frame.Bounds
		dst := image.NewGray(image.Rect(0, 0, b.Dx()*s.scale, b.Dy()*s.scale))
		draw.NearestNeighbor.Scale(dst, dst.Bounds(), s.pixels, b, draw.Src, nil)
		if err := png.Encode(&buf, dst); err != nil {
			return nil, err
		}
	case PBM:
		if err := pbm.Encode(&buf, s.pixels.Bitmap(), pbm.Raw); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("preview: unhandled format %s", f)
	}
	return buf.Bytes(), nil
}

// snapshotOf returns the encoded current frame and its sequence number.
func (s *Stream) snapshotOf(f Format) ([]byte, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.snapshot[f]
	if !ok {
		var err error
		if b, err = s.encodeLocked(f); err != nil {
			return nil, 0, err
		}
		s.snapshot[f] = b
	}
	return b, s.seq, nil
}

// ServeHTTP streams frames until the client goes away or Halt is called.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	f := s.format
	if v := r.URL.Query().Get("format"); v != "" {
		var err error
		if f, err = ParseFormat(v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	pw := newPartWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+pw.boundary)

	c := &client{
		refresh:   make(chan struct{}, 1),
		terminate: make(chan struct{}, 1),
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	for {
		body, seq, err := s.snapshotOf(f)
		if err != nil {
			log.Error().Err(err).Stringer("format", f).Msg("preview: encoding")
			return
		}
		// Write errors end the stream; there is no way to report them within
		// it.
		if err := pw.writePart(f.mimeType(), seq, body); err != nil {
			log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("preview: client gone")
			return
		}
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
		select {
		case <-c.refresh:
		case <-c.terminate:
			return
		case <-r.Context().Done():
			return
		}
	}
}
