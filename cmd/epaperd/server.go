// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/GermanBionicSystems/epaper/epd2in9v2"
	"github.com/GermanBionicSystems/epaper/frame"
	"github.com/GermanBionicSystems/epaper/orchestrator"
	"github.com/GermanBionicSystems/epaper/pbm"
)

// maxImageBody bounds POST /image. A plain PBM of a frame is about 77kB.
const maxImageBody = 1 << 20

// panel is the part of orchestrator.Orchestrator the server uses.
type panel interface {
	Init(ctx context.Context) error
	Clear(ctx context.Context, fill byte) error
	ShowImage(ctx context.Context, img []byte) (string, error)
	Sleep(ctx context.Context) error
	Status(ctx context.Context) (orchestrator.Status, error)
}

type server struct {
	p   panel
	mux *http.ServeMux
}

func newServer(p panel, gatherer prometheus.Gatherer) *server {
	s := &server{p: p, mux: http.NewServeMux()}
	s.mux.HandleFunc("/status", s.serveStatus)
	s.mux.HandleFunc("/init", s.post(s.serveInit))
	s.mux.HandleFunc("/clear", s.post(s.serveClear))
	s.mux.HandleFunc("/image", s.post(s.serveImage))
	s.mux.HandleFunc("/sleep", s.post(s.serveSleep))
	s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return s
}

// servePreview mounts the frame stream of the simulated panel.
func (s *server) servePreview(h http.Handler) {
	s.mux.Handle("/preview", h)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *server) post(h func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if err := h(w, r); err != nil {
			code := httpStatus(err)
			log.Warn().Err(err).Str("path", r.URL.Path).Int("code", code).Msg("epaperd: request failed")
			http.Error(w, err.Error(), code)
			return
		}
		s.writeStatus(w, r)
	}
}

func (s *server) serveStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	s.writeStatus(w, r)
}

func (s *server) writeStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.p.Status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		log.Debug().Err(err).Msg("epaperd: writing status")
	}
}

func (s *server) serveInit(_ http.ResponseWriter, r *http.Request) error {
	return s.p.Init(r.Context())
}

func (s *server) serveSleep(_ http.ResponseWriter, r *http.Request) error {
	return s.p.Sleep(r.Context())
}

func (s *server) serveClear(_ http.ResponseWriter, r *http.Request) error {
	fill := byte(0xFF)
	if v := r.FormValue("fill"); v != "" {
		n, err := strconv.ParseUint(v, 16, 8)
		if err != nil {
			return badRequest(fmt.Errorf("fill %q: want a hex byte", v))
		}
		fill = byte(n)
	}
	return s.p.Clear(r.Context(), fill)
}

func (s *server) serveImage(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImageBody+1))
	if err != nil {
		return badRequest(err)
	}
	if len(body) > maxImageBody {
		return badRequest(fmt.Errorf("body larger than %d bytes", maxImageBody))
	}
	img, err := decodeImage(body)
	if err != nil {
		return badRequest(err)
	}
	mode, err := s.p.ShowImage(r.Context(), img)
	if err != nil {
		return err
	}
	w.Header().Set("X-Refresh-Mode", mode)
	return nil
}

// decodeImage accepts a raw frame or a PBM file of the panel size.
func decodeImage(body []byte) (frame.Buffer, error) {
	if len(body) == frame.Size || !(bytes.HasPrefix(body, []byte("P1")) || bytes.HasPrefix(body, []byte("P4"))) {
		return frame.Buffer(body), nil
	}
	bm, _, err := pbm.DecodeSize(bytes.NewReader(body), frame.Width, frame.Height)
	if err != nil {
		return nil, err
	}
	return frame.FromBitmap(bm)
}

type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &requestError{err: err}
}

func httpStatus(err error) int {
	var re *requestError
	switch {
	case errors.As(err, &re), errors.Is(err, epd2in9v2.ErrInvalidImageSize):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrNotInitialized),
		errors.Is(err, orchestrator.ErrRecoveryRequired),
		errors.Is(err, orchestrator.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, epd2in9v2.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, orchestrator.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
