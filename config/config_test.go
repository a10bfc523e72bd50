package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mklimuk/station/environment"
	"github.com/mklimuk/station/usi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
station:
  id: 7
  variant: fast
bus:
  backend: gobot
  scl: "3"
  sda: "5"
  timeout: 10ms
sensor:
  conversion_delay: 25ms
influx:
  url: http://localhost:8086
  org: home
  bucket: climate
interval: 30s
samples: 5
`

func write(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(write(t, "station.yaml", sample), "")
	require.NoError(t, err)

	assert.Equal(t, uint8(7), cfg.Station.ID)
	assert.Equal(t, VariantFast, cfg.Station.Variant)
	assert.Equal(t, BackendGobot, cfg.Bus.Backend)
	assert.Equal(t, 10*time.Millisecond, cfg.Bus.Timeout)
	assert.Equal(t, 25*time.Millisecond, cfg.Sensor.ConversionDelay)
	assert.Equal(t, uint8(0x40), cfg.Sensor.Address, "defaults survive")
	assert.Equal(t, "climate", cfg.Influx.Bucket)
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 5, cfg.Samples)

	mc := cfg.Master()
	assert.Equal(t, usi.FastMode, mc.Timing)
	assert.True(t, mc.Fast)
	assert.Equal(t, 10*time.Millisecond, mc.Timeout)
	assert.True(t, cfg.Bitbanged())
	assert.False(t, cfg.Diagnostics())
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STATION_ID", "12")
	t.Setenv("STATION_VARIANT", "diagnostic")
	env := write(t, ".env", "STATION_INFLUX_TOKEN=from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv("STATION_INFLUX_TOKEN") })

	cfg, err := Load(write(t, "station.yaml", sample), env)
	require.NoError(t, err)
	assert.Equal(t, uint8(12), cfg.Station.ID)
	assert.True(t, cfg.Diagnostics())
	assert.Equal(t, usi.StandardMode, cfg.Master().Timing)
	assert.Equal(t, "from-dotenv", cfg.Influx.Token)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		change func(*Config)
	}{
		{name: "variant", change: func(c *Config) { c.Station.Variant = "turbo" }},
		{name: "backend", change: func(c *Config) { c.Bus.Backend = "spi" }},
		{name: "pins", change: func(c *Config) { c.Bus.SDA = "" }},
		{name: "address", change: func(c *Config) { c.Sensor.Address = 0x80 }},
		{name: "samples", change: func(c *Config) { c.Samples = 0 }},
		{name: "timeout", change: func(c *Config) { c.Bus.Timeout = -time.Second }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.change(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("STATION_ID", "300")
	_, err := Load("", "")
	assert.ErrorIs(t, err, ErrInvalid)
}

type recordingBus struct {
	addr   byte
	writes [][]byte
}

func (b *recordingBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.addr = address
	b.writes = append(b.writes, append([]byte(nil), buffer...))
	return nil
}

func (b *recordingBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	return nil
}

func (b *recordingBus) Release(ctx context.Context) error {
	return nil
}

func TestSensorOptions(t *testing.T) {
	tests := []struct {
		name   string
		heater bool
		want   []byte
	}{
		{name: "heater off", want: []byte{0x02, 0x10, 0x00}},
		{name: "heater on", heater: true, want: []byte{0x02, 0x30, 0x00}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			cfg.Sensor.Address = 0x41
			cfg.Sensor.Heater = test.heater
			bus := &recordingBus{}

			sensor := environment.NewHDC1080(bus, cfg.SensorOptions()...)
			require.NoError(t, sensor.Initialize(context.Background()))
			assert.Equal(t, byte(0x41), bus.addr)
			assert.Equal(t, [][]byte{test.want}, bus.writes)
		})
	}
}

func TestBitbanged(t *testing.T) {
	for backend, want := range map[Backend]bool{
		BackendPeriph:      true,
		BackendGobot:       true,
		BackendMCP2221GPIO: true,
		BackendI2CDev:      false,
		BackendMCP2221:     false,
	} {
		cfg := Default()
		cfg.Bus.Backend = backend
		assert.Equal(t, want, cfg.Bitbanged(), string(backend))
	}
}
