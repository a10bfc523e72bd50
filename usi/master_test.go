package usi_test

import (
	"testing"
	"time"

	"github.com/mklimuk/station/usi"
	"github.com/mklimuk/station/usi/usitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestTransferWidth(t *testing.T) {
	r := newRig()

	_, err := r.master.Transfer(4)
	assert.Error(t, err)
}

func TestSendTiming(t *testing.T) {
	tests := []struct {
		name string
		cfg  usi.Config
	}{
		{name: "standard", cfg: usi.StandardConfig()},
		{name: "fast", cfg: usi.FastConfig()},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			clock := usitest.NewClock()
			wire := usitest.NewBus(clock, usitest.NewRegisterTarget(0x40))
			m := usi.NewMaster(wire.SCL(), wire.SDA(), usi.WithConfig(test.cfg), usi.WithClock(clock))
			bus := usi.NewBus(m, "timing")

			require.NoError(t, bus.Send(0x40, []byte{0x00}))
			events := wire.Events()
			require.Len(t, events, 4)
			elapsed := events[3].At.Sub(events[0].At)
			period := test.cfg.Timing.THigh + test.cfg.Timing.TLow
			assert.GreaterOrEqual(t, elapsed, 18*period)
		})
	}
}

func TestSoftShifterCounter(t *testing.T) {
	clock := usitest.NewClock()
	wire := usitest.NewBus(clock)
	sh := usi.NewSoftShifter(wire.SCL(), wire.SDA())
	require.NoError(t, wire.SCL().SetDirection(usi.Output))
	require.NoError(t, wire.SCL().Low())

	sh.SetCounter(14)
	require.NoError(t, sh.Strobe())
	assert.False(t, sh.Complete())
	assert.Equal(t, uint8(15), sh.Counter())
	require.NoError(t, sh.Strobe())
	assert.True(t, sh.Complete())
	assert.Equal(t, uint8(0), sh.Counter())

	sh.SetCounter(0)
	assert.False(t, sh.Complete())
}

func TestSoftShifterLoopback(t *testing.T) {
	clock := usitest.NewClock()
	wire := usitest.NewBus(clock)
	sh := usi.NewSoftShifter(wire.SCL(), wire.SDA())
	require.NoError(t, wire.SCL().SetDirection(usi.Output))
	require.NoError(t, wire.SCL().Low())
	require.NoError(t, wire.SDA().SetDirection(usi.Output))

	require.NoError(t, sh.Load(0xA5))
	sh.SetCounter(0)
	for !sh.Complete() {
		require.NoError(t, sh.Strobe())
	}
	assert.Equal(t, byte(0xA5), sh.Data())
}

func TestPeriphLine(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO17"}
	line, err := usi.NewPeriphLine(pin)
	require.NoError(t, err)
	assert.Equal(t, gpio.PullUp, pin.P)
	assert.Equal(t, "GPIO17", line.String())

	require.NoError(t, line.Low())
	lvl, err := line.Read()
	require.NoError(t, err)
	assert.Equal(t, gpio.High, lvl, "an input is never driven")

	require.NoError(t, line.SetDirection(usi.Output))
	lvl, _ = line.Read()
	assert.Equal(t, gpio.Low, lvl)
	assert.Equal(t, gpio.Low, line.Latch())

	require.NoError(t, line.High())
	lvl, _ = line.Read()
	assert.Equal(t, gpio.High, lvl, "a high output is released to the pull-up")
	assert.Equal(t, usi.Output, line.Direction())
}

func TestMasterOverPeriphLines(t *testing.T) {
	clock := usitest.NewClock()
	scl, err := usi.NewPeriphLine(&gpiotest.Pin{N: "SCL"})
	require.NoError(t, err)
	sda, err := usi.NewPeriphLine(&gpiotest.Pin{N: "SDA"})
	require.NoError(t, err)
	cfg := usi.StandardConfig()
	cfg.Timeout = time.Millisecond
	m := usi.NewMaster(scl, sda, usi.WithConfig(cfg), usi.WithClock(clock))

	require.NoError(t, m.Start())
	ack, err := m.SendByte(0x80)
	require.NoError(t, err)
	assert.False(t, ack, "nobody pulls SDA low on a bare pin")
	require.NoError(t, m.Stop())
}
