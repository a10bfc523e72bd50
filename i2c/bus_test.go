package i2c

import (
	"context"
	"testing"

	"github.com/mklimuk/station/environment"
	"github.com/mklimuk/station/usi/usitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

func TestGenericBus_HDC1080(t *testing.T) {
	playback := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x40, W: []byte{0x02, 0x10, 0x00}},
			{Addr: 0x40, W: []byte{0x00}},
			{Addr: 0x40, R: []byte{0x80, 0x00, 0x80, 0x00}},
		},
		DontPanic: true,
	}
	bus := NewBus(playback)
	sensor := environment.NewHDC1080(bus, environment.WithHDC1080Clock(usitest.NewClock()))
	ctx := context.Background()

	require.NoError(t, sensor.Initialize(ctx))
	r, err := sensor.Measure(ctx)
	require.NoError(t, err)
	assert.Equal(t, environment.Reading{Temperature: 42.5, Humidity: 50}, r)
	require.NoError(t, bus.SetSpeed(400*physic.KiloHertz))
	assert.NoError(t, bus.Close())
}

func TestGenericBus_Errors(t *testing.T) {
	playback := &i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: 0x40, W: []byte{0x00}}},
		DontPanic: true,
	}
	bus := NewBus(playback)
	ctx := context.Background()

	err := bus.WriteToAddr(ctx, 0x41, []byte{0x00})
	assert.ErrorContains(t, err, "could not write to i2c bus 41")
	require.NoError(t, bus.WriteToAddr(ctx, 0x40, []byte{0x00}))
	err = bus.ReadFromAddr(ctx, 0x40, make([]byte, 2))
	assert.ErrorContains(t, err, "could not read from i2c bus 40")
	assert.NoError(t, bus.Release(ctx))
}

func TestGenericBus_MeasureUnexpectedTx(t *testing.T) {
	playback := &i2ctest.Playback{DontPanic: true}
	sensor := environment.NewHDC1080(NewBus(playback))

	r, err := sensor.Measure(context.Background())
	assert.ErrorContains(t, err, "hdc1080: trigger failed")
	assert.Equal(t, environment.Reading{}, r)
	assert.Equal(t, 0, playback.Count)
}
