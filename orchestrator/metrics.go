// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Refresh modes used as metric labels and returned by ShowImage.
const (
	ModeFull    = "full"
	ModePartial = "partial"
	ModeClear   = "clear"
	ModeAuto    = "auto"
)

type metrics struct {
	refreshes *prometheus.CounterVec
	errors    *prometheus.CounterVec
	partial   prometheus.Gauge
	duration  *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "epaper_refreshes_total",
			Help: "Completed panel refreshes by mode.",
		}, []string{"mode"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "epaper_errors_total",
			Help: "Failed operations by operation.",
		}, []string{"op"}),
		partial: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "epaper_partial_updates",
			Help: "Partial updates since the last full refresh.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "epaper_refresh_duration_seconds",
			Help:    "Time spent in a refresh sequence, bus waits included.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"mode"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.refreshes, m.errors, m.partial, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) observe(mode string, start time.Time, err error, op string) {
	if err != nil {
		m.errors.WithLabelValues(op).Inc()
		return
	}
	m.refreshes.WithLabelValues(mode).Inc()
	m.duration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}
