// Package config loads the station configuration: a YAML document, an
// optional .env file and STATION_* environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/mklimuk/station/environment"
	"github.com/mklimuk/station/sink"
	"github.com/mklimuk/station/usi"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

// Variant selects a named build of the station firmware behaviour.
type Variant string

const (
	VariantStandard   Variant = "standard"
	VariantFast       Variant = "fast"
	VariantDiagnostic Variant = "diagnostic"
)

// Backend selects how the I2C bus is reached.
type Backend string

const (
	// bit-banged over host GPIO through periph
	BackendPeriph Backend = "periph"
	// bit-banged over NanoPi header pins through gobot
	BackendGobot Backend = "gobot"
	// bit-banged over the MCP2221 GP pins
	BackendMCP2221GPIO Backend = "mcp2221-gpio"
	// kernel i2c-dev driver
	BackendI2CDev Backend = "i2c-dev"
	// MCP2221 hardware I2C engine
	BackendMCP2221 Backend = "mcp2221"
)

type Station struct {
	ID      uint8   `yaml:"id"`
	Variant Variant `yaml:"variant"`
}

type Bus struct {
	Backend Backend `yaml:"backend"`
	SCL     string  `yaml:"scl"`
	SDA     string  `yaml:"sda"`
	// Device names the i2c-dev bus, e.g. "/dev/i2c-1" or "1".
	Device       string        `yaml:"device"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type Sensor struct {
	Address         uint8         `yaml:"address"`
	ConversionDelay time.Duration `yaml:"conversion_delay"`
	Heater          bool          `yaml:"heater"`
}

type Server struct {
	Listen string `yaml:"listen"`
}

type Config struct {
	Station  Station           `yaml:"station"`
	Bus      Bus               `yaml:"bus"`
	Sensor   Sensor            `yaml:"sensor"`
	Influx   sink.InfluxConfig `yaml:"influx"`
	Server   Server            `yaml:"server"`
	Interval time.Duration     `yaml:"interval"`
	Samples  int               `yaml:"samples"`
}

func Default() Config {
	return Config{
		Station: Station{ID: 1, Variant: VariantStandard},
		Bus: Bus{
			Backend:      BackendPeriph,
			SCL:          "GPIO3",
			SDA:          "GPIO2",
			Device:       "1",
			Timeout:      25 * time.Millisecond,
			PollInterval: time.Microsecond,
		},
		Sensor:   Sensor{Address: 0x40, ConversionDelay: 20 * time.Millisecond},
		Interval: time.Minute,
		Samples:  10,
	}
}

// Load reads path on top of the defaults, then applies the environment.
// A missing file or .env file is not an error.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("could not read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("could not parse config file %s: %w", path, err)
			}
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("could not load env file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"STATION_BUS_SCL":       &c.Bus.SCL,
		"STATION_BUS_SDA":       &c.Bus.SDA,
		"STATION_BUS_DEVICE":    &c.Bus.Device,
		"STATION_INFLUX_URL":    &c.Influx.URL,
		"STATION_INFLUX_TOKEN":  &c.Influx.Token,
		"STATION_INFLUX_ORG":    &c.Influx.Org,
		"STATION_INFLUX_BUCKET": &c.Influx.Bucket,
		"STATION_SERVER_LISTEN": &c.Server.Listen,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("STATION_VARIANT"); ok {
		c.Station.Variant = Variant(v)
	}
	if v, ok := os.LookupEnv("STATION_BUS_BACKEND"); ok {
		c.Bus.Backend = Backend(v)
	}
	if v, ok := os.LookupEnv("STATION_ID"); ok {
		id, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return fmt.Errorf("STATION_ID %q: %w", v, ErrInvalid)
		}
		c.Station.ID = uint8(id)
	}
	if v, ok := os.LookupEnv("STATION_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STATION_INTERVAL %q: %w", v, ErrInvalid)
		}
		c.Interval = d
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Station.Variant {
	case VariantStandard, VariantFast, VariantDiagnostic:
	default:
		return fmt.Errorf("unknown variant %q: %w", c.Station.Variant, ErrInvalid)
	}
	switch c.Bus.Backend {
	case BackendPeriph, BackendGobot, BackendMCP2221GPIO:
		if c.Bus.SCL == "" || c.Bus.SDA == "" {
			return fmt.Errorf("backend %s needs scl and sda pins: %w", c.Bus.Backend, ErrInvalid)
		}
	case BackendI2CDev, BackendMCP2221:
	default:
		return fmt.Errorf("unknown bus backend %q: %w", c.Bus.Backend, ErrInvalid)
	}
	if c.Bus.Timeout < 0 {
		return fmt.Errorf("negative bus timeout: %w", ErrInvalid)
	}
	if c.Sensor.Address > 0x7F {
		return fmt.Errorf("sensor address 0x%x out of 7-bit range: %w", c.Sensor.Address, ErrInvalid)
	}
	if c.Samples < 1 {
		return fmt.Errorf("samples must be positive: %w", ErrInvalid)
	}
	return nil
}

// Master returns the bit-banged bus timing for the configured variant.
func (c Config) Master() usi.Config {
	mc := usi.StandardConfig()
	if c.Station.Variant == VariantFast {
		mc = usi.FastConfig()
	}
	mc.Timeout = c.Bus.Timeout
	if c.Bus.PollInterval > 0 {
		mc.PollInterval = c.Bus.PollInterval
	}
	return mc
}

// Diagnostics reports whether per-byte bus tracing is enabled.
func (c Config) Diagnostics() bool {
	return c.Station.Variant == VariantDiagnostic
}

// SensorOptions returns the HDC1080 options of the sensor section.
func (c Config) SensorOptions() []environment.HDC1080Opt {
	return []environment.HDC1080Opt{
		environment.WithHDC1080Address(c.Sensor.Address),
		environment.WithConversionDelay(c.Sensor.ConversionDelay),
		environment.WithHeater(c.Sensor.Heater),
	}
}

// Bitbanged reports whether the backend drives the bus through usi.
func (c Config) Bitbanged() bool {
	switch c.Bus.Backend {
	case BackendPeriph, BackendGobot, BackendMCP2221GPIO:
		return true
	}
	return false
}
