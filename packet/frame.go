// Package packet holds the fixed little-endian payload a station sends
// downstream after every measurement.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/mklimuk/station/environment"
)

const (
	MinSize = 8
	Size    = 10
)

var ErrFrameSize = errors.New("invalid frame size")

// Battery levels for stations that only know whether their supply dropped
// below the sensor threshold.
const (
	BatteryLow uint8 = 0
	BatteryOK  uint8 = 100
)

func BatteryLevel(low bool) uint8 {
	if low {
		return BatteryLow
	}
	return BatteryOK
}

// Frame is temperature and humidity as float32, then the battery level and
// station id bytes. Older stations omit one or both trailing bytes.
type Frame struct {
	Temperature float32 `json:"temperature"`
	Humidity    float32 `json:"humidity"`
	Battery     uint8   `json:"battery"`
	StationID   uint8   `json:"station_id"`
	HasBattery  bool    `json:"-"`
	HasStation  bool    `json:"-"`
}

func FromReading(r environment.Reading, battery, station uint8) Frame {
	return Frame{
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Battery:     battery,
		StationID:   station,
		HasBattery:  true,
		HasStation:  true,
	}
}

func (f Frame) Reading() environment.Reading {
	return environment.Reading{Temperature: f.Temperature, Humidity: f.Humidity}
}

func (f Frame) MarshalBinary() ([]byte, error) {
	if f.HasStation && !f.HasBattery {
		return nil, fmt.Errorf("station id without battery level: %w", ErrFrameSize)
	}
	buf := make([]byte, MinSize, Size)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(f.Temperature))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(f.Humidity))
	if f.HasBattery {
		buf = append(buf, f.Battery)
	}
	if f.HasStation {
		buf = append(buf, f.StationID)
	}
	return buf, nil
}

func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < MinSize || len(data) > Size {
		return fmt.Errorf("%d bytes: %w", len(data), ErrFrameSize)
	}
	*f = Frame{
		Temperature: math.Float32frombits(binary.LittleEndian.Uint32(data[0:4])),
		Humidity:    math.Float32frombits(binary.LittleEndian.Uint32(data[4:8])),
	}
	if len(data) > 8 {
		f.Battery = data[8]
		f.HasBattery = true
	}
	if len(data) > 9 {
		f.StationID = data[9]
		f.HasStation = true
	}
	return nil
}
