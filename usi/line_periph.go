package usi

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

// PeriphLine drives a periph GPIO as an open-drain line: a released line is
// switched to an input with pull-up, a pulled line is an output driven low.
type PeriphLine struct {
	pin   gpio.PinIO
	dir   Direction
	latch gpio.Level
}

var _ Line = &PeriphLine{}

func NewPeriphLine(pin gpio.PinIO) (*PeriphLine, error) {
	l := &PeriphLine{pin: pin, dir: Input, latch: gpio.High}
	if err := l.apply(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *PeriphLine) High() error {
	l.latch = gpio.High
	return l.apply()
}

func (l *PeriphLine) Low() error {
	l.latch = gpio.Low
	return l.apply()
}

func (l *PeriphLine) Read() (gpio.Level, error) {
	return l.pin.Read(), nil
}

func (l *PeriphLine) SetDirection(dir Direction) error {
	l.dir = dir
	return l.apply()
}

func (l *PeriphLine) Direction() Direction {
	return l.dir
}

func (l *PeriphLine) Latch() gpio.Level {
	return l.latch
}

func (l *PeriphLine) String() string {
	return l.pin.Name()
}

func (l *PeriphLine) apply() error {
	var err error
	if pullsLow(l.dir, l.latch) {
		err = l.pin.Out(gpio.Low)
	} else {
		err = l.pin.In(gpio.PullUp, gpio.NoEdge)
	}
	if err != nil {
		return fmt.Errorf("could not drive pin %s: %w", l.pin.Name(), err)
	}
	return nil
}
