package usi

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/station"
	"github.com/mklimuk/station/busctx"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// Controller is the set of bus primitives a transaction is built from.
type Controller interface {
	Start() error
	Stop() error
	SendByte(b byte) (bool, error)
	ReadByte(nack bool) (byte, error)
}

// Recoverer is implemented by controllers able to clock a stuck slave free.
type Recoverer interface {
	Recover() error
}

type State int

const (
	StateIdle State = iota
	StateStart
	StateAddressPhase
	StateDataPhase
	StateAckPhase
	StateStop
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStart:
		return "start"
	case StateAddressPhase:
		return "address"
	case StateDataPhase:
		return "data"
	case StateAckPhase:
		return "ack"
	case StateStop:
		return "stop"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PhaseError records the transaction phase a bus failure happened in.
type PhaseError struct {
	Phase State
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

func checkAddr(addr uint16) error {
	if addr > 0x7F {
		return fmt.Errorf("address 0x%x: 10-bit addressing is not supported", addr)
	}
	return nil
}

// Bus runs whole 7-bit address transactions over a Controller, one at a time.
type Bus struct {
	mx    sync.Mutex
	ctrl  Controller
	name  string
	state State
}

var _ station.I2CBus = &Bus{}
var _ i2c.Bus = &Bus{}

func NewBus(ctrl Controller, name string) *Bus {
	return &Bus{ctrl: ctrl, name: name}
}

// State is the transaction phase. Transactions hold the bus lock, so callers
// only observe StateIdle; the failing phase is reported through PhaseError.
func (b *Bus) State() State {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.state
}

// Send writes payload to the device at addr. Every byte must be acknowledged;
// the transfer stops at the first NACK. STOP is issued in every case.
func (b *Bus) Send(addr byte, payload []byte) error {
	return b.SendContext(context.Background(), addr, payload)
}

func (b *Bus) SendContext(ctx context.Context, addr byte, payload []byte) error {
	if err := checkAddr(uint16(addr)); err != nil {
		return err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	busctx.Trace(ctx, "i2c send", "bus", b.name, "addr", fmt.Sprintf("0x%02x", addr), "payload", fmt.Sprintf("% x", payload))
	err := b.failed(ctx, b.send(ctx, addr, payload))
	if stopErr := b.stop(); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	return err
}

func (b *Bus) send(ctx context.Context, addr byte, payload []byte) error {
	b.state = StateStart
	if err := b.ctrl.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	b.state = StateAddressPhase
	ack, err := b.ctrl.SendByte(addr << 1)
	if err != nil {
		return fmt.Errorf("address 0x%02x: %w", addr, err)
	}
	if !ack {
		return fmt.Errorf("address 0x%02x: %w", addr, station.ErrNack)
	}
	for i, p := range payload {
		b.state = StateDataPhase
		ack, err := b.ctrl.SendByte(p)
		if err != nil {
			return fmt.Errorf("payload byte %d: %w", i, err)
		}
		b.state = StateAckPhase
		if !ack {
			busctx.Trace(ctx, "i2c payload byte not acknowledged", "bus", b.name, "index", i)
			return fmt.Errorf("payload byte %d of %d: %w", i, len(payload), station.ErrNack)
		}
	}
	return nil
}

// Receive reads n bytes from the device at addr, acknowledging all but the
// last one. A refused address aborts the read with ErrMalformedReceive.
func (b *Bus) Receive(addr byte, n int) ([]byte, error) {
	if n < 1 {
		return nil, fmt.Errorf("invalid receive length %d", n)
	}
	buf := make([]byte, n)
	if err := b.ReceiveContext(context.Background(), addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReceiveContext fills buf from the device at addr. An empty buf is refused
// before START: a slave that acknowledged its read address would otherwise
// keep SDA for the first data bit and block the STOP.
func (b *Bus) ReceiveContext(ctx context.Context, addr byte, buf []byte) error {
	if err := checkAddr(uint16(addr)); err != nil {
		return err
	}
	if len(buf) == 0 {
		return errors.New("invalid receive length 0")
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	err := b.failed(ctx, b.receive(addr, buf))
	if stopErr := b.stop(); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	if err == nil {
		busctx.Trace(ctx, "i2c receive", "bus", b.name, "addr", fmt.Sprintf("0x%02x", addr), "data", fmt.Sprintf("% x", buf))
	}
	return err
}

func (b *Bus) receive(addr byte, buf []byte) error {
	b.state = StateStart
	if err := b.ctrl.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	b.state = StateAddressPhase
	ack, err := b.ctrl.SendByte(addr<<1 | 0x01)
	if err != nil {
		return fmt.Errorf("address 0x%02x: %w", addr, err)
	}
	if !ack {
		return fmt.Errorf("address 0x%02x: %w", addr, errors.Join(station.ErrMalformedReceive, station.ErrNack))
	}
	for i := range buf {
		b.state = StateDataPhase
		v, err := b.ctrl.ReadByte(i == len(buf)-1)
		if err != nil {
			return fmt.Errorf("byte %d of %d: %w", i, len(buf), err)
		}
		b.state = StateAckPhase
		buf[i] = v
	}
	return nil
}

// failed tags err with the phase the transaction was in.
func (b *Bus) failed(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	busctx.Trace(ctx, "i2c transaction failed", "bus", b.name, "phase", b.state.String(), "error", err)
	return &PhaseError{Phase: b.state, Err: err}
}

func (b *Bus) stop() error {
	b.state = StateStop
	err := b.ctrl.Stop()
	b.state = StateIdle
	if err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

func (b *Bus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := b.SendContext(ctx, address, buffer); err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *Bus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := b.ReceiveContext(ctx, address, buffer); err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

// Release frees a bus left stuck by a slave, when the controller supports it.
func (b *Bus) Release(ctx context.Context) error {
	r, ok := b.ctrl.(Recoverer)
	if !ok {
		return nil
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	busctx.Trace(ctx, "i2c bus recovery", "bus", b.name)
	if err := r.Recover(); err != nil {
		return fmt.Errorf("could not release bus %s: %w", b.name, err)
	}
	b.state = StateIdle
	return nil
}

// Tx implements i2c.Bus. A combined write and read runs as two transactions.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if err := checkAddr(addr); err != nil {
		return err
	}
	ctx := context.Background()
	if len(w) > 0 || len(r) == 0 {
		if err := b.SendContext(ctx, byte(addr), w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		return b.ReceiveContext(ctx, byte(addr), r)
	}
	return nil
}

// SetSpeed selects fast-mode timing from 400kHz upwards, standard mode below.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	m, ok := b.ctrl.(*Master)
	if !ok {
		return fmt.Errorf("bus %s: speed is fixed", b.name)
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	if f >= 400*physic.KiloHertz {
		m.SetTiming(FastMode, true)
	} else {
		m.SetTiming(StandardMode, false)
	}
	return nil
}

func (b *Bus) String() string {
	return b.name
}
