package usi

import (
	"fmt"

	"gobot.io/x/gobot/v2"
	"periph.io/x/conn/v3/gpio"
)

// GobotLine is an open-drain line on top of a gobot digital pin, e.g. one of
// the NanoPi header pins.
type GobotLine struct {
	id    string
	pin   gobot.DigitalPinner
	dir   Direction
	latch gpio.Level
}

var _ Line = &GobotLine{}

// NewGobotLine obtains the pin from the adaptor and releases it.
func NewGobotLine(provider gobot.DigitalPinnerProvider, id string) (*GobotLine, error) {
	pin, err := provider.DigitalPin(id)
	if err != nil {
		return nil, fmt.Errorf("could not get digital pin %s: %w", id, err)
	}
	l := &GobotLine{id: id, pin: pin, dir: Input, latch: gpio.High}
	if err := l.apply(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *GobotLine) High() error {
	l.latch = gpio.High
	return l.apply()
}

func (l *GobotLine) Low() error {
	l.latch = gpio.Low
	return l.apply()
}

func (l *GobotLine) Read() (gpio.Level, error) {
	val, err := l.pin.Read()
	if err != nil {
		return gpio.Low, fmt.Errorf("could not read pin %s: %w", l.id, err)
	}
	return val != 0, nil
}

func (l *GobotLine) SetDirection(dir Direction) error {
	l.dir = dir
	return l.apply()
}

func (l *GobotLine) Direction() Direction {
	return l.dir
}

func (l *GobotLine) Latch() gpio.Level {
	return l.latch
}

func (l *GobotLine) String() string {
	return l.id
}

func (l *GobotLine) apply() error {
	drive := pullsLow(l.dir, l.latch)
	err := l.pin.ApplyOptions(func(o gobot.DigitalPinOptioner) bool {
		if drive {
			return o.SetDirectionOutput(0)
		}
		return o.SetDirectionInput()
	})
	if err != nil {
		return fmt.Errorf("could not drive pin %s: %w", l.id, err)
	}
	return nil
}
