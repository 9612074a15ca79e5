// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// epaperd drives a Waveshare 2.9" V2 e-paper panel and serves it over HTTP.
//
// Images are posted as packed frames or PBM files; the daemon decides
// between partial and full refreshes, refreshes the panel periodically and
// hibernates it when idle. Status is served as JSON, metrics in the
// Prometheus format, and optionally published to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/GermanBionicSystems/epaper/hal"
	"github.com/GermanBionicSystems/epaper/hal/halperiph"
	"github.com/GermanBionicSystems/epaper/hal/halsim"
	"github.com/GermanBionicSystems/epaper/orchestrator"
	"github.com/GermanBionicSystems/epaper/pbm"
	"github.com/GermanBionicSystems/epaper/preview"
	"github.com/GermanBionicSystems/epaper/statuspub"
	"github.com/GermanBionicSystems/epaper/termview"
)

var (
	configFile = flag.String("config_file", "config.yaml", "configuration `filename`")
	debug      = flag.Bool("debug", false, "whether to log extra information")
	httpFlag   = flag.String("http", "localhost:8080", "`address` on which to serve HTTP")
	simulate   = flag.Bool("simulate", false, "use the simulated panel regardless of the config")
	termFlag   = flag.Bool("term", false, "print simulated frames on the terminal")
)

func main() {
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := parseConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("epaperd: config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
		sig := <-sigc
		log.Info().Stringer("signal", sig).Msg("epaperd: shutting down")
		cancel()
	}()

	var pub *statuspub.Publisher
	if cfg.MQTT != "" {
		pub, err = statuspub.New(ctx, cfg.MQTT, cfg.MQTTTopic, "epaperd")
		if err != nil {
			log.Fatal().Err(err).Msg("epaperd: MQTT")
		}
	}

	opts := &orchestrator.Options{
		RefreshInterval:   cfg.RefreshInterval,
		PowerSaveInterval: cfg.PowerSaveInterval,
		Registerer:        prometheus.DefaultRegisterer,
		OnStatus: func(s orchestrator.Status) {
			log.Debug().Stringer("display_state", s.DisplayState).Stringer("refresh_state", s.RefreshState).
				Int("partial_updates", s.PartialUpdateCount).Msg("epaperd: status")
			if pub != nil {
				pub.OnStatus(s)
			}
		},
	}
	h, stream := newHAL(&cfg)
	o, err := orchestrator.New(h, &cfg.Panel, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("epaperd: orchestrator")
	}
	// A failed bring up is reported and left to POST /init.
	if err := o.Init(ctx); err != nil {
		log.Error().Err(err).Msg("epaperd: initial bring up")
	}

	var wg sync.WaitGroup
	srv := newServer(o, prometheus.DefaultGatherer)
	if stream != nil {
		srv.servePreview(stream)
	}
	httpServer := &http.Server{Handler: srv}
	wg.Add(1)
	go func() {
		defer wg.Done()
		l, err := net.Listen("tcp", *httpFlag)
		if err != nil {
			log.Error().Err(err).Str("addr", *httpFlag).Msg("epaperd: listen")
			cancel()
			return
		}
		log.Info().Stringer("addr", l.Addr()).Msg("epaperd: serving HTTP")
		if err := httpServer.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("epaperd: HTTP")
			cancel()
		}
	}()

	<-ctx.Done()
	if stream != nil {
		// Preview streams never end on their own.
		stream.Halt()
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("epaperd: HTTP shutdown")
	}
	wg.Wait()
	if err := o.Close(); err != nil {
		log.Warn().Err(err).Msg("epaperd: closing panel")
	}
	if pub != nil {
		if err := pub.Close(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("epaperd: closing MQTT")
		}
	}
}

// newHAL returns the hardware HAL, or the simulator and the stream of the
// frames it captures.
func newHAL(cfg *Config) (hal.HAL, *preview.Stream) {
	if !cfg.Simulate && !*simulate {
		return halperiph.New(), nil
	}
	format, _ := pbm.ParseFormat(cfg.CaptureFormat)
	stream := preview.New(nil)
	sinks := frameSinks{stream}
	if *termFlag {
		sinks = append(sinks, termview.New(nil))
	}
	opts := &halsim.Options{
		CaptureDir:      cfg.CaptureDir,
		Format:          format,
		BusyProbability: cfg.BusyProbability,
		Seed:            time.Now().UnixNano(),
		RealTime:        true,
		Sink:            sinks,
	}
	log.Info().Str("capture_dir", cfg.CaptureDir).Str("format", string(format)).Msg("epaperd: simulated panel, frames on /preview")
	return halsim.New(opts), stream
}

// frameSinks shows every frame on each sink in turn.
type frameSinks []halsim.FrameSink

func (s frameSinks) ShowFrame(f halsim.Frame) error {
	var errs []error
	for _, sink := range s {
		if err := sink.ShowFrame(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
