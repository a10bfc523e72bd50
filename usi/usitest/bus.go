// Package usitest simulates a two-wire open-drain bus with register devices
// for exercising the bit-banged master without hardware.
package usitest

import (
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/station/usi"
	"periph.io/x/conn/v3/gpio"
)

type EventKind int

const (
	EventStart EventKind = iota
	EventStop
	EventByte
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	default:
		return "byte"
	}
}

// Event is a bus condition observed by the simulated slaves.
type Event struct {
	Kind EventKind
	// Value and Ack are set for byte events. Ack reflects the receiving side:
	// the slave for written bytes, the master for read ones.
	Value byte
	Ack   bool
	At    time.Time
}

func (e Event) String() string {
	if e.Kind != EventByte {
		return e.Kind.String()
	}
	if e.Ack {
		return fmt.Sprintf("0x%02x ack", e.Value)
	}
	return fmt.Sprintf("0x%02x nack", e.Value)
}

type phase int

const (
	phaseIdle phase = iota
	phaseAddress
	phaseAddressAck
	phaseWrite
	phaseWriteAck
	phaseRead
	phaseReadAck
	phaseIgnore
)

// Bus is the wire-AND of every line and slave attached to it.
type Bus struct {
	mx      sync.Mutex
	clock   *Clock
	scl     *Line
	sda     *Line
	targets map[byte]Target
	events  []Event

	sclLevel gpio.Level
	sdaLevel gpio.Level

	// clock stretching
	holdArmed bool
	holdFor   time.Duration
	holding   bool
	holdUntil time.Time

	// slave side
	phase     phase
	bits      int
	shift     byte
	active    Target
	read      bool
	pullSDA   bool
	out       byte
	masterAck bool
}

func NewBus(clock *Clock, targets ...Target) *Bus {
	b := &Bus{
		clock:    clock,
		targets:  map[byte]Target{},
		sclLevel: gpio.High,
		sdaLevel: gpio.High,
	}
	b.scl = &Line{bus: b, name: "SCL", dir: usi.Input, latch: gpio.High}
	b.sda = &Line{bus: b, name: "SDA", dir: usi.Input, latch: gpio.High}
	for _, t := range targets {
		b.targets[t.Addr()] = t
	}
	return b
}

func (b *Bus) SCL() *Line {
	return b.scl
}

func (b *Bus) SDA() *Line {
	return b.sda
}

// Events returns the conditions observed so far.
func (b *Bus) Events() []Event {
	b.mx.Lock()
	defer b.mx.Unlock()
	return append([]Event(nil), b.events...)
}

func (b *Bus) Reset() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.events = nil
}

// StretchSCL holds SCL low for d once it is next pulled low. A negative
// duration holds it until ReleaseSCL is called.
func (b *Bus) StretchSCL(d time.Duration) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.holdArmed = true
	b.holdFor = d
	if b.sclLevel == gpio.Low {
		b.startHold()
	}
}

func (b *Bus) ReleaseSCL() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.holdArmed = false
	b.holding = false
	b.update()
}

// HoldSDA makes the addressed slave keep SDA low, as if stuck mid-byte.
func (b *Bus) HoldSDA() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.phase = phaseRead
	b.out = 0x00
	b.bits = 0
	b.pullSDA = true
	b.sdaLevel = gpio.Low
}

func (b *Bus) startHold() {
	b.holdArmed = false
	b.holding = true
	if b.holdFor < 0 {
		b.holdUntil = time.Time{}
		return
	}
	b.holdUntil = b.clock.Now().Add(b.holdFor)
}

func (b *Bus) sample(l *Line) gpio.Level {
	b.mx.Lock()
	defer b.mx.Unlock()
	if l == b.scl && b.holding && !b.holdUntil.IsZero() && !b.clock.Now().Before(b.holdUntil) {
		b.holding = false
		b.update()
	}
	if l == b.scl {
		return b.sclLevel
	}
	return b.sdaLevel
}

func (b *Bus) changed() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.update()
}

// update recomputes the wire levels and feeds edges to the slave engine.
func (b *Bus) update() {
	scl := gpio.High
	if b.scl.pulls() || b.holding {
		scl = gpio.Low
	}
	sda := gpio.High
	if b.sda.pulls() || b.pullSDA {
		sda = gpio.Low
	}
	prevSCL, prevSDA := b.sclLevel, b.sdaLevel
	b.sclLevel, b.sdaLevel = scl, sda

	if prevSDA != sda && prevSCL == gpio.High && scl == gpio.High {
		if sda == gpio.Low {
			b.onStart()
		} else {
			b.onStop()
		}
		return
	}
	if prevSCL == scl {
		return
	}
	if scl == gpio.High {
		b.onRise()
		return
	}
	if b.holdArmed {
		b.startHold()
		b.sclLevel = gpio.Low
	}
	b.onFall()
}

func (b *Bus) record(kind EventKind, value byte, ack bool) {
	b.events = append(b.events, Event{Kind: kind, Value: value, Ack: ack, At: b.clock.Now()})
}

func (b *Bus) onStart() {
	b.record(EventStart, 0, false)
	b.phase = phaseAddress
	b.bits = 0
	b.shift = 0
	b.pullSDA = false
}

func (b *Bus) onStop() {
	b.record(EventStop, 0, false)
	if b.active != nil {
		b.active.Stop()
		b.active = nil
	}
	b.phase = phaseIdle
	b.pullSDA = false
}

func (b *Bus) onRise() {
	bit := byte(0)
	if b.sdaLevel == gpio.High {
		bit = 1
	}
	switch b.phase {
	case phaseAddress, phaseWrite:
		b.shift = b.shift<<1 | bit
		b.bits++
	case phaseRead:
		b.bits++
	case phaseReadAck:
		b.masterAck = bit == 0
		b.record(EventByte, b.out, b.masterAck)
	}
}

func (b *Bus) onFall() {
	switch b.phase {
	case phaseAddress:
		if b.bits < 8 {
			return
		}
		addr, read := b.shift>>1, b.shift&0x01 == 1
		t, ok := b.targets[addr]
		if !ok || !t.Start(read) {
			b.record(EventByte, b.shift, false)
			b.phase = phaseIgnore
			return
		}
		b.record(EventByte, b.shift, true)
		b.active = t
		b.read = read
		b.pullSDA = true
		b.phase = phaseAddressAck
	case phaseAddressAck, phaseWriteAck:
		b.pullSDA = false
		b.bits = 0
		b.shift = 0
		if b.read {
			b.loadOut()
			return
		}
		b.phase = phaseWrite
	case phaseWrite:
		if b.bits < 8 {
			return
		}
		ack := b.active.WriteByte(b.shift)
		b.record(EventByte, b.shift, ack)
		if !ack {
			b.phase = phaseIgnore
			return
		}
		b.pullSDA = true
		b.phase = phaseWriteAck
	case phaseRead:
		if b.bits >= 8 {
			b.pullSDA = false
			b.phase = phaseReadAck
			return
		}
		b.pullSDA = b.out&(0x80>>b.bits) == 0
	case phaseReadAck:
		if !b.masterAck {
			b.phase = phaseIgnore
			return
		}
		b.bits = 0
		b.loadOut()
	}
	b.settleSDA()
}

func (b *Bus) loadOut() {
	b.out = b.active.ReadByte()
	b.phase = phaseRead
	b.pullSDA = b.out&0x80 == 0
	b.settleSDA()
}

// settleSDA refreshes the SDA level after the slave changed its drive while
// SCL is low, which can never form a START or STOP.
func (b *Bus) settleSDA() {
	sda := gpio.High
	if b.sda.pulls() || b.pullSDA {
		sda = gpio.Low
	}
	b.sdaLevel = sda
}

// Line is a master-side pin of the simulated bus.
type Line struct {
	bus   *Bus
	name  string
	dir   usi.Direction
	latch gpio.Level
}

var _ usi.Line = &Line{}

func (l *Line) High() error {
	l.latch = gpio.High
	l.bus.changed()
	return nil
}

func (l *Line) Low() error {
	l.latch = gpio.Low
	l.bus.changed()
	return nil
}

func (l *Line) Read() (gpio.Level, error) {
	return l.bus.sample(l), nil
}

func (l *Line) SetDirection(dir usi.Direction) error {
	l.dir = dir
	l.bus.changed()
	return nil
}

func (l *Line) Direction() usi.Direction {
	return l.dir
}

func (l *Line) Latch() gpio.Level {
	return l.latch
}

func (l *Line) String() string {
	return l.name
}

func (l *Line) pulls() bool {
	return l.dir == usi.Output && l.latch == gpio.Low
}
