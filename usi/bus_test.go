package usi_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mklimuk/station"
	"github.com/mklimuk/station/usi"
	"github.com/mklimuk/station/usi/usitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

type countingShifter struct {
	usi.Shifter
	byteTransfers int
	bitTransfers  int
}

func (c *countingShifter) SetCounter(v uint8) {
	if v == 0 {
		c.byteTransfers++
	} else {
		c.bitTransfers++
	}
	c.Shifter.SetCounter(v)
}

type rig struct {
	wire    *usitest.Bus
	clock   *usitest.Clock
	shifter *countingShifter
	master  *usi.Master
	bus     *usi.Bus
}

func newRig(targets ...usitest.Target) *rig {
	clock := usitest.NewClock()
	wire := usitest.NewBus(clock, targets...)
	sh := &countingShifter{Shifter: usi.NewSoftShifter(wire.SCL(), wire.SDA())}
	cfg := usi.StandardConfig()
	cfg.Timeout = time.Millisecond
	m := usi.NewMaster(wire.SCL(), wire.SDA(), usi.WithConfig(cfg), usi.WithClock(clock), usi.WithShifter(sh))
	return &rig{wire: wire, clock: clock, shifter: sh, master: m, bus: usi.NewBus(m, "test")}
}

func eventStrings(events []usitest.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.String()
	}
	return out
}

func TestSend(t *testing.T) {
	target := usitest.NewRegisterTarget(0x40)
	r := newRig(target)

	err := r.bus.Send(0x40, []byte{0x02, 0x10, 0x00})
	require.NoError(t, err)

	assert.Equal(t, []string{"start", "0x80 ack", "0x02 ack", "0x10 ack", "0x00 ack", "stop"}, eventStrings(r.wire.Events()))
	assert.Equal(t, [][]byte{{0x02, 0x10, 0x00}}, target.Writes())
	assert.Equal(t, 4, r.shifter.byteTransfers)
	assert.Equal(t, 4, r.shifter.bitTransfers)
	assert.Equal(t, usi.StateIdle, r.bus.State())
}

func TestSendEmptyPayload(t *testing.T) {
	r := newRig(usitest.NewRegisterTarget(0x40))

	require.NoError(t, r.bus.Send(0x40, nil))
	assert.Equal(t, []string{"start", "0x80 ack", "stop"}, eventStrings(r.wire.Events()))
	assert.Equal(t, 1, r.shifter.byteTransfers)
}

func TestSendAddressNack(t *testing.T) {
	r := newRig()

	err := r.bus.Send(0x40, []byte{0x00})
	require.Error(t, err)
	assert.ErrorIs(t, err, station.ErrNack)
	assert.Equal(t, []string{"start", "0x80 nack", "stop"}, eventStrings(r.wire.Events()))
	assert.Equal(t, usi.StateIdle, r.bus.State())
	assertPhase(t, err, usi.StateAddressPhase)
}

func assertPhase(t *testing.T, err error, want usi.State) {
	t.Helper()
	var perr *usi.PhaseError
	require.True(t, errors.As(err, &perr), "error %v carries no phase", err)
	assert.Equal(t, want, perr.Phase)
}

func TestSendNackMidPayload(t *testing.T) {
	target := usitest.NewRegisterTarget(0x40)
	target.RejectAfter = 1
	r := newRig(target)

	err := r.bus.Send(0x40, []byte{0x02, 0x10, 0x00})
	require.Error(t, err)
	assert.ErrorIs(t, err, station.ErrNack)
	assert.Equal(t, []string{"start", "0x80 ack", "0x02 ack", "0x10 nack", "stop"}, eventStrings(r.wire.Events()))
	assert.Equal(t, 3, r.shifter.byteTransfers, "third payload byte must not be clocked")
	assert.Equal(t, usi.StateIdle, r.bus.State())
	assertPhase(t, err, usi.StateAckPhase)
	assert.ErrorContains(t, err, "ack phase")
}

func TestSendWideAddress(t *testing.T) {
	r := newRig(usitest.NewRegisterTarget(0x40))

	assert.Error(t, r.bus.Send(0xC0, []byte{0x00}))
	assert.Error(t, r.bus.ReadFromAddr(context.Background(), 0x80, make([]byte, 2)))
	assert.Empty(t, r.wire.Events(), "no condition may reach the wire")
}

func TestReceive(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want []string
	}{
		{name: "single byte", n: 1, want: []string{"start", "0x81 ack", "0x11 nack", "stop"}},
		{name: "four bytes", n: 4, want: []string{"start", "0x81 ack", "0x11 ack", "0x22 ack", "0x33 ack", "0x44 nack", "stop"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			target := usitest.NewRegisterTarget(0x40)
			target.Regs[0x00] = []byte{0x11, 0x22, 0x33, 0x44}
			r := newRig(target)

			data, err := r.bus.Receive(0x40, test.n)
			require.NoError(t, err)
			assert.Equal(t, target.Regs[0x00][:test.n], data)
			assert.Equal(t, test.want, eventStrings(r.wire.Events()))
			assert.Equal(t, test.n+1, r.shifter.byteTransfers)
			assert.Equal(t, test.n+1, r.shifter.bitTransfers)
			assert.Equal(t, usi.StateIdle, r.bus.State())
		})
	}
}

func TestReceiveAddressNack(t *testing.T) {
	target := usitest.NewRegisterTarget(0x40)
	target.NotReady = true
	r := newRig(target)

	data, err := r.bus.Receive(0x40, 4)
	require.Error(t, err)
	assert.Nil(t, data)
	assert.ErrorIs(t, err, station.ErrMalformedReceive)
	assert.ErrorIs(t, err, station.ErrNack)
	assert.Equal(t, []string{"start", "0x81 nack", "stop"}, eventStrings(r.wire.Events()))
	assertPhase(t, err, usi.StateAddressPhase)
}

func TestReceiveInvalidLength(t *testing.T) {
	tests := []struct {
		name    string
		receive func(b *usi.Bus) error
	}{
		{name: "zero count", receive: func(b *usi.Bus) error {
			_, err := b.Receive(0x40, 0)
			return err
		}},
		{name: "negative count", receive: func(b *usi.Bus) error {
			_, err := b.Receive(0x40, -1)
			return err
		}},
		{name: "empty buffer", receive: func(b *usi.Bus) error {
			return b.ReadFromAddr(context.Background(), 0x40, nil)
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			target := usitest.NewRegisterTarget(0x40)
			r := newRig(target)

			require.Error(t, test.receive(r.bus))
			assert.Empty(t, r.wire.Events())
			require.NoError(t, r.bus.Send(0x40, []byte{0x00}))
			assert.Equal(t, [][]byte{{0x00}}, target.Writes())
		})
	}
}

func TestClockStretching(t *testing.T) {
	target := usitest.NewRegisterTarget(0x40)
	r := newRig(target)
	r.wire.StretchSCL(200 * time.Microsecond)

	before := r.clock.Now()
	require.NoError(t, r.bus.Send(0x40, []byte{0x00}))
	assert.GreaterOrEqual(t, r.clock.Now().Sub(before), 200*time.Microsecond)
	assert.Equal(t, [][]byte{{0x00}}, target.Writes())
}

func TestStuckClockTimesOut(t *testing.T) {
	target := usitest.NewRegisterTarget(0x40)
	r := newRig(target)
	r.wire.StretchSCL(-1)

	err := r.bus.Send(0x40, []byte{0x00})
	require.Error(t, err)
	assert.ErrorIs(t, err, station.ErrBusTimeout)
	assert.Equal(t, usi.StateIdle, r.bus.State())

	r.wire.ReleaseSCL()
	r.wire.Reset()
	require.NoError(t, r.bus.Send(0x40, []byte{0x01, 0xAA}))
	assert.Equal(t, [][]byte{{0x01, 0xAA}}, target.Writes())
}

func TestRelease(t *testing.T) {
	target := usitest.NewRegisterTarget(0x40)
	r := newRig(target)
	r.wire.HoldSDA()

	require.NoError(t, r.bus.Release(context.Background()))
	r.wire.Reset()
	require.NoError(t, r.bus.Send(0x40, []byte{0x02}))
	assert.Equal(t, []string{"start", "0x80 ack", "0x02 ack", "stop"}, eventStrings(r.wire.Events()))
}

func TestTx(t *testing.T) {
	target := usitest.NewRegisterTarget(0x40)
	target.Regs[0xFE] = []byte{0x54, 0x49}
	r := newRig(target)

	read := make([]byte, 2)
	require.NoError(t, r.bus.Tx(0x40, []byte{0xFE}, read))
	assert.Equal(t, []byte{0x54, 0x49}, read)
	assert.Equal(t, []string{"start", "0x80 ack", "0xfe ack", "stop", "start", "0x81 ack", "0x54 ack", "0x49 nack", "stop"}, eventStrings(r.wire.Events()))

	assert.Error(t, r.bus.Tx(0x140, nil, read))
}

func TestSetSpeed(t *testing.T) {
	r := newRig()

	require.NoError(t, r.bus.SetSpeed(400*physic.KiloHertz))
	assert.Equal(t, usi.FastMode, r.master.Config().Timing)
	assert.True(t, r.master.Config().Fast)

	require.NoError(t, r.bus.SetSpeed(100*physic.KiloHertz))
	assert.Equal(t, usi.StandardMode, r.master.Config().Timing)
	assert.Equal(t, "test", r.bus.String())
}

func TestReadWriteAddr(t *testing.T) {
	target := usitest.NewRegisterTarget(0x40)
	r := newRig(target)
	ctx := context.Background()

	require.NoError(t, r.bus.WriteToAddr(ctx, 0x40, []byte{0x02, 0x30, 0x00}))
	require.NoError(t, r.bus.WriteToAddr(ctx, 0x40, []byte{0x02}))
	buf := make([]byte, 2)
	require.NoError(t, r.bus.ReadFromAddr(ctx, 0x40, buf))
	assert.Equal(t, []byte{0x30, 0x00}, buf)

	err := r.bus.ReadFromAddr(ctx, 0x41, buf)
	assert.ErrorIs(t, err, station.ErrMalformedReceive)
}
