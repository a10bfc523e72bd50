package environment

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/station"
	"periph.io/x/conn/v3/physic"
)

// HDC1080 I2C address (7-bit)
const hdc1080Address = 0x40

// Registers
const (
	hdc1080RegTemperature  byte = 0x00
	hdc1080RegConfig       byte = 0x02
	hdc1080RegSerialHigh   byte = 0xFB
	hdc1080RegManufacturer byte = 0xFE
	hdc1080RegDeviceID     byte = 0xFF
)

// Configuration register bits (MSB byte)
const (
	hdc1080CfgReset       byte = 0x80
	hdc1080CfgHeater      byte = 0x20
	hdc1080CfgAcquisition byte = 0x10
	hdc1080CfgBattery     byte = 0x08
	hdc1080CfgTempRes     byte = 0x04
	hdc1080CfgHumRes      byte = 0x03
)

const (
	HDC1080ManufacturerID uint16 = 0x5449
	HDC1080DeviceID       uint16 = 0x1050
)

// Resolution of a single HDC1080 conversion.
type Resolution byte

const (
	Resolution14Bit Resolution = iota
	Resolution11Bit
	Resolution8Bit
)

func (r Resolution) String() string {
	switch r {
	case Resolution11Bit:
		return "11-bit"
	case Resolution8Bit:
		return "8-bit"
	default:
		return "14-bit"
	}
}

// Reading is one combined temperature and humidity measurement.
type Reading struct {
	Temperature float32 `json:"temperature"`
	Humidity    float32 `json:"humidity"`
}

func (r Reading) Env() physic.Env {
	return physic.Env{
		Temperature: physic.ZeroCelsius + physic.Temperature(float64(r.Temperature)*float64(physic.Celsius)),
		Humidity:    physic.RelativeHumidity(float64(r.Humidity) * float64(physic.PercentRH)),
	}
}

type HDC1080Opt func(*HDC1080)

func WithHDC1080Address(address byte) HDC1080Opt {
	return func(s *HDC1080) {
		s.address = address
	}
}

// WithConversionDelay sets the minimum wait between the measurement trigger
// and the data read.
func WithConversionDelay(delay time.Duration) HDC1080Opt {
	return func(s *HDC1080) {
		s.conversion = delay
	}
}

func WithHDC1080Clock(clock station.Clock) HDC1080Opt {
	return func(s *HDC1080) {
		s.clock = clock
	}
}

func WithHDC1080Logger(logger *slog.Logger) HDC1080Opt {
	return func(s *HDC1080) {
		s.logger = logger
	}
}

// WithBusRetries sets how many times a write is retried after the bus was
// found stuck and released.
func WithBusRetries(n int) HDC1080Opt {
	return func(s *HDC1080) {
		s.retries = n
	}
}

// WithHeater switches the heater on with every Initialize.
func WithHeater(on bool) HDC1080Opt {
	return func(s *HDC1080) {
		if on {
			s.config |= hdc1080CfgHeater
		} else {
			s.config &^= hdc1080CfgHeater
		}
	}
}

// WithConfigMSB overrides the configuration written by Initialize.
func WithConfigMSB(cfg byte) HDC1080Opt {
	return func(s *HDC1080) {
		s.config = cfg
	}
}

// HDC1080 is the TI HDC1080 temperature and humidity sensor running in
// acquisition mode: one trigger converts both values, read back as 4 bytes.
//
//	s := NewHDC1080(bus)
//	err := s.Initialize(ctx)
//	r, err := s.Measure(ctx)
type HDC1080 struct {
	mx         sync.Mutex
	transport  station.I2CBus
	address    byte
	config     byte
	conversion time.Duration
	retries    int
	clock      station.Clock
	logger     *slog.Logger
}

func NewHDC1080(trans station.I2CBus, opts ...HDC1080Opt) *HDC1080 {
	s := &HDC1080{
		transport:  trans,
		address:    hdc1080Address,
		config:     hdc1080CfgAcquisition,
		conversion: 20 * time.Millisecond,
		retries:    1,
		clock:      station.SystemClock,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("sensor", "hdc1080", "address", fmt.Sprintf("0x%02x", s.address))
	return s
}

// Initialize writes the configuration register. It may be repeated.
func (s *HDC1080) Initialize(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.writeConfig(ctx, s.config)
}

// Measure triggers a conversion and returns the converted reading. Any bus
// failure is returned with a zero Reading.
func (s *HDC1080) Measure(ctx context.Context) (Reading, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.write(ctx, []byte{hdc1080RegTemperature}); err != nil {
		return Reading{}, fmt.Errorf("hdc1080: trigger failed: %w", err)
	}
	if err := s.wait(ctx, s.conversion); err != nil {
		return Reading{}, err
	}
	buf := make([]byte, 4)
	if err := s.read(ctx, buf); err != nil {
		return Reading{}, fmt.Errorf("hdc1080: read failed: %w", err)
	}
	r := Reading{
		Temperature: convertHDC1080Temperature(buf[0:2]),
		Humidity:    convertHDC1080Humidity(buf[2:4]),
	}
	s.logger.Debug("measurement", "raw", fmt.Sprintf("% x", buf), "temperature", r.Temperature, "humidity", r.Humidity)
	return r, nil
}

// MeasureAverage takes n measurements and returns their mean.
func (s *HDC1080) MeasureAverage(ctx context.Context, n int) (Reading, error) {
	if n < 1 {
		return Reading{}, fmt.Errorf("hdc1080: invalid sample count %d", n)
	}
	var temp, hum float64
	for i := 0; i < n; i++ {
		r, err := s.Measure(ctx)
		if err != nil {
			return Reading{}, fmt.Errorf("hdc1080: sample %d: %w", i, err)
		}
		temp += float64(r.Temperature)
		hum += float64(r.Humidity)
	}
	return Reading{Temperature: float32(temp / float64(n)), Humidity: float32(hum / float64(n))}, nil
}

// GetTemperature performs a single measurement and returns temperature in Celsius.
func (s *HDC1080) GetTemperature(ctx context.Context) (float32, error) {
	r, err := s.Measure(ctx)
	return r.Temperature, err
}

// GetHumidity performs a single measurement and returns relative humidity in %RH.
func (s *HDC1080) GetHumidity(ctx context.Context) (float32, error) {
	r, err := s.Measure(ctx)
	return r.Humidity, err
}

func (s *HDC1080) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	r, err := s.Measure(ctx)
	return r.Temperature, r.Humidity, err
}

// ReadConfig returns the configuration register.
func (s *HDC1080) ReadConfig(ctx context.Context) (uint16, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.readRegister(ctx, hdc1080RegConfig)
}

func (s *HDC1080) SetHeater(ctx context.Context, on bool) error {
	return s.updateConfig(ctx, func(cfg byte) byte {
		if on {
			return cfg | hdc1080CfgHeater
		}
		return cfg &^ hdc1080CfgHeater
	})
}

func (s *HDC1080) SetResolution(ctx context.Context, temp, hum Resolution) error {
	if temp == Resolution8Bit {
		return fmt.Errorf("hdc1080: temperature resolution %s not supported", temp)
	}
	return s.updateConfig(ctx, func(cfg byte) byte {
		cfg &^= hdc1080CfgTempRes | hdc1080CfgHumRes
		if temp == Resolution11Bit {
			cfg |= hdc1080CfgTempRes
		}
		return cfg | byte(hum)
	})
}

// Reset performs a soft reset, restoring the configured defaults.
func (s *HDC1080) Reset(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.writeConfig(ctx, hdc1080CfgReset); err != nil {
		return err
	}
	return s.wait(ctx, 15*time.Millisecond)
}

// BatteryLow reports whether the supply voltage dropped below 2.8V.
func (s *HDC1080) BatteryLow(ctx context.Context) (bool, error) {
	cfg, err := s.ReadConfig(ctx)
	if err != nil {
		return false, err
	}
	return byte(cfg>>8)&hdc1080CfgBattery != 0, nil
}

func (s *HDC1080) ManufacturerID(ctx context.Context) (uint16, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.readRegister(ctx, hdc1080RegManufacturer)
}

func (s *HDC1080) DeviceID(ctx context.Context) (uint16, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.readRegister(ctx, hdc1080RegDeviceID)
}

// SerialNumber returns the 41-bit serial id spread over registers 0xFB..0xFD.
func (s *HDC1080) SerialNumber(ctx context.Context) (uint64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	var serial uint64
	for i := byte(0); i < 3; i++ {
		v, err := s.readRegister(ctx, hdc1080RegSerialHigh+i)
		if err != nil {
			return 0, err
		}
		serial = serial<<16 | uint64(v)
	}
	// the last register only carries 9 bits in its upper part
	return serial >> 7, nil
}

func (s *HDC1080) updateConfig(ctx context.Context, change func(byte) byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	cfg, err := s.readRegister(ctx, hdc1080RegConfig)
	if err != nil {
		return err
	}
	next := change(byte(cfg >> 8))
	if err := s.writeConfig(ctx, next); err != nil {
		return err
	}
	s.config = next
	return nil
}

func (s *HDC1080) writeConfig(ctx context.Context, msb byte) error {
	err := s.write(ctx, []byte{hdc1080RegConfig, msb, 0x00})
	if err != nil {
		return fmt.Errorf("hdc1080: config write failed: %w", err)
	}
	return nil
}

func (s *HDC1080) readRegister(ctx context.Context, reg byte) (uint16, error) {
	if err := s.write(ctx, []byte{reg}); err != nil {
		return 0, fmt.Errorf("hdc1080: pointer write 0x%02x failed: %w", reg, err)
	}
	buf := make([]byte, 2)
	if err := s.read(ctx, buf); err != nil {
		return 0, fmt.Errorf("hdc1080: register 0x%02x read failed: %w", reg, err)
	}
	return binary.BigEndian.Uint16(buf), nil
}

// write sends payload to the sensor. A bus left busy or stuck is released
// and the write retried.
func (s *HDC1080) write(ctx context.Context, payload []byte) error {
	for attempt := 0; ; attempt++ {
		err := s.transport.WriteToAddr(ctx, s.address, payload)
		if err == nil || !stuck(err) {
			return err
		}
		s.release(ctx, err)
		if attempt >= s.retries {
			return err
		}
	}
}

// read fetches len(buf) bytes. A stuck bus is released for the next caller;
// the read itself is not repeated.
func (s *HDC1080) read(ctx context.Context, buf []byte) error {
	err := s.transport.ReadFromAddr(ctx, s.address, buf)
	if err != nil && stuck(err) {
		s.release(ctx, err)
	}
	return err
}

func (s *HDC1080) release(ctx context.Context, cause error) {
	s.logger.Warn("releasing stuck bus", "error", cause)
	if err := s.transport.Release(ctx); err != nil {
		s.logger.Warn("bus release failed", "error", err)
	}
}

func stuck(err error) bool {
	return errors.Is(err, station.ErrBusTimeout) || errors.Is(err, station.ErrBusBusy)
}

// wait sleeps on the sensor clock until at least d has elapsed, going back to
// sleep after early wake-ups.
func (s *HDC1080) wait(ctx context.Context, d time.Duration) error {
	deadline := s.clock.Now().Add(d)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("hdc1080: conversion wait interrupted: %w", err)
		}
		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			return nil
		}
		s.clock.Sleep(remaining)
	}
}

func convertHDC1080Temperature(raw []byte) float32 {
	return float32(float64(binary.BigEndian.Uint16(raw))/65536*165 - 40)
}

func convertHDC1080Humidity(raw []byte) float32 {
	return float32(float64(binary.BigEndian.Uint16(raw)) / 65536 * 100)
}
