package usi

import (
	"periph.io/x/conn/v3/gpio"
)

// Direction of a bus line.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// Line is one open-drain bus wire (SCL or SDA).
//
// The line is pulled low only while it is an output with a low latch. Every
// other combination releases the wire, which then floats high through the
// pull-up unless another device holds it low. Read always returns the level
// observed on the wire, not the latch.
type Line interface {
	High() error
	Low() error
	Read() (gpio.Level, error)
	SetDirection(dir Direction) error
	Direction() Direction
	Latch() gpio.Level
}

// pullsLow reports whether the given state actively drives the wire.
func pullsLow(dir Direction, latch gpio.Level) bool {
	return dir == Output && latch == gpio.Low
}
