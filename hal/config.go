// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hal

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config describes how the panel is wired.
type Config struct {
	// BusDevice is the SPI device path, e.g. /dev/spidev0.0.
	BusDevice string `yaml:"bus_device"`

	DC   Pin `yaml:"dc_pin"`
	RST  Pin `yaml:"rst_pin"`
	Busy Pin `yaml:"busy_pin"`
	PWR  Pin `yaml:"pwr_pin"`
}

// DefaultConfig is the wiring of the Waveshare e-Paper HAT (rev 2.3) on a
// Raspberry Pi.
var DefaultConfig = Config{
	BusDevice: "/dev/spidev0.0",
	DC:        ChipPin("gpiochip0", 25),
	RST:       ChipPin("gpiochip0", 17),
	Busy:      ChipPin("gpiochip0", 24),
	PWR:       ChipPin("gpiochip0", 18),
}

// Pin identifies a GPIO line, either as an offset on a named GPIO chip or
// as a legacy global number.
type Pin struct {
	Chip   string
	Offset int

	set    bool
	legacy bool
}

// ChipPin returns the line at offset on the named GPIO chip.
func ChipPin(chip string, offset int) Pin {
	return Pin{Chip: chip, Offset: offset, set: true}
}

// LegacyPin returns the line with the given global (BCM) number.
func LegacyPin(n int) Pin {
	return Pin{Offset: n, set: true, legacy: true}
}

// IsSet reports whether the pin was configured.
func (p Pin) IsSet() bool {
	return p.set
}

// IsLegacy reports whether the pin is a global number rather than a chip
// offset.
func (p Pin) IsLegacy() bool {
	return p.set && p.legacy
}

func (p Pin) String() string {
	switch {
	case !p.set:
		return "<unset>"
	case p.legacy:
		return fmt.Sprintf("GPIO%d", p.Offset)
	default:
		return fmt.Sprintf("%s:%d", p.Chip, p.Offset)
	}
}

// UnmarshalYAML accepts `25`, `[gpiochip0, 25]` and
// `{chip: gpiochip0, offset: 25}`.
func (p *Pin) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n int
	if err := unmarshal(&n); err == nil {
		*p = LegacyPin(n)
		return nil
	}

	var pair []interface{}
	if err := unmarshal(&pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("pin pair needs 2 elements, got %d", len(pair))
		}
		chip, ok := pair[0].(string)
		if !ok {
			return fmt.Errorf("pin chip name %v is not a string", pair[0])
		}
		off, ok := pair[1].(int)
		if !ok {
			return fmt.Errorf("pin offset %v is not an integer", pair[1])
		}
		*p = ChipPin(chip, off)
		return nil
	}

	var m struct {
		Chip   string `yaml:"chip"`
		Offset *int   `yaml:"offset"`
	}
	if err := unmarshal(&m); err != nil {
		return fmt.Errorf("pin must be an integer, a [chip, offset] pair or a {chip, offset} map: %v", err)
	}
	if m.Offset == nil {
		return fmt.Errorf("pin map is missing offset")
	}
	*p = ChipPin(m.Chip, *m.Offset)
	return nil
}

// MarshalYAML writes the pin back in the shape UnmarshalYAML reads.
func (p Pin) MarshalYAML() (interface{}, error) {
	switch {
	case !p.set:
		return nil, nil
	case p.legacy:
		return p.Offset, nil
	default:
		return []interface{}{p.Chip, p.Offset}, nil
	}
}

// Validate checks that every field is present and well formed.
func (c *Config) Validate() error {
	if c == nil {
		return &ConfigError{Field: "config", Reason: "missing"}
	}
	if c.BusDevice == "" {
		return &ConfigError{Field: "bus_device", Reason: "missing"}
	}
	for _, f := range c.pins() {
		if !f.pin.set {
			return &ConfigError{Field: f.name, Reason: "missing"}
		}
		if !f.pin.legacy && f.pin.Chip == "" {
			return &ConfigError{Field: f.name, Reason: "empty chip name"}
		}
		if f.pin.Offset < 0 {
			return &ConfigError{Field: f.name, Reason: fmt.Sprintf("offset %d is negative", f.pin.Offset)}
		}
	}
	return nil
}

type namedPin struct {
	name string
	pin  Pin
}

func (c *Config) pins() []namedPin {
	return []namedPin{
		{"dc_pin", c.DC},
		{"rst_pin", c.RST},
		{"busy_pin", c.Busy},
		{"pwr_pin", c.PWR},
	}
}

// ParseConfig decodes and validates a yaml panel configuration.
func ParseConfig(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing panel config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads a yaml panel configuration from filename.
func LoadConfig(filename string) (*Config, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading panel config %s: %w", filename, err)
	}
	return ParseConfig(raw)
}
