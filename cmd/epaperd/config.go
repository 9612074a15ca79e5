// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/GermanBionicSystems/epaper/hal"
	"github.com/GermanBionicSystems/epaper/pbm"
)

type Config struct {
	Panel hal.Config `yaml:"panel"`

	// Simulate uses halsim instead of the hardware.
	Simulate        bool    `yaml:"simulate"`
	CaptureDir      string  `yaml:"capture_dir"`
	CaptureFormat   string  `yaml:"capture_format"`
	BusyProbability float64 `yaml:"busy_probability"`

	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	PowerSaveInterval time.Duration `yaml:"power_save_interval"`

	MQTT      string `yaml:"mqtt"` // broker URL; empty disables
	MQTTTopic string `yaml:"mqtt_topic"`
}

func parseConfig(filename string) (Config, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", filename, err)
	}
	cfg := Config{
		CaptureFormat:   string(pbm.Raw),
		BusyProbability: 0.1,
	}
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config from %s: %w", filename, err)
	}
	if err := cfg.Panel.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", filename, err)
	}
	if _, err := pbm.ParseFormat(cfg.CaptureFormat); err != nil {
		return Config{}, fmt.Errorf("config %s: capture_format: %w", filename, err)
	}
	if cfg.BusyProbability < 0 || cfg.BusyProbability > 1 {
		return Config{}, fmt.Errorf("config %s: busy_probability %v outside [0, 1]", filename, cfg.BusyProbability)
	}
	return cfg, nil
}
