package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mklimuk/station/config"
	"github.com/mklimuk/station/environment"
	"github.com/mklimuk/station/packet"
	"github.com/mklimuk/station/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSensor struct {
	readings []environment.Reading
	errs     []error
	samples  []int
	done     func()
}

func (s *scriptedSensor) MeasureAverage(ctx context.Context, n int) (environment.Reading, error) {
	i := len(s.samples)
	s.samples = append(s.samples, n)
	if i == len(s.readings)-1 {
		s.done()
	}
	return s.readings[i], s.errs[i]
}

type collect []sink.Sample

func (c *collect) Publish(ctx context.Context, s sink.Sample) error {
	*c = append(*c, s)
	return nil
}

func TestWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.Default()
	cfg.Station.ID = 7
	cfg.Samples = 3
	cfg.Interval = time.Millisecond
	sensor := &scriptedSensor{
		readings: []environment.Reading{{Temperature: 21, Humidity: 40}, {}, {Temperature: 22, Humidity: 41}},
		errs:     []error{nil, errors.New("nack"), nil},
		done:     cancel,
	}
	var got collect
	err := watch(ctx, cfg, sensor, &got, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{3, 3, 3}, sensor.samples)
	require.Len(t, got, 2, "failed measurement is skipped")
	assert.Equal(t, uint8(7), got[0].Station)
	assert.Equal(t, float32(21), got[0].Reading.Temperature)
	assert.Equal(t, float32(41), got[1].Reading.Humidity)
	assert.False(t, got[1].Time.IsZero())
	assert.Equal(t, packet.BatteryOK, got[0].Battery)
}

type lowBatterySensor struct {
	*scriptedSensor
}

func (lowBatterySensor) BatteryLow(ctx context.Context) (bool, error) {
	return true, nil
}

func TestWatch_BatteryLevel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.Default()
	sensor := lowBatterySensor{&scriptedSensor{
		readings: []environment.Reading{{Temperature: 21}},
		errs:     []error{nil},
		done:     cancel,
	}}
	var got collect
	require.ErrorIs(t, watch(ctx, cfg, sensor, &got, nil), context.Canceled)
	require.Len(t, got, 1)
	assert.Equal(t, packet.BatteryLow, got[0].Battery)
}

func TestWatch_ServerError(t *testing.T) {
	cfg := config.Default()
	cfg.Interval = time.Hour
	errc := make(chan error, 1)
	errc <- errors.New("listen failed")
	sensor := &scriptedSensor{
		readings: []environment.Reading{{Temperature: 21}, {}},
		errs:     []error{nil, nil},
		done:     func() {},
	}
	var got collect
	err := watch(context.Background(), cfg, sensor, &got, errc)
	assert.EqualError(t, err, "listen failed")
	assert.Len(t, got, 1)
}
