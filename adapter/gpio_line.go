package adapter

import (
	"context"
	"fmt"

	"github.com/mklimuk/station/usi"
	"periph.io/x/conn/v3/gpio"
)

// GPIOLine is an open-drain bus line on one of the MCP2221 GP pins. Every
// change is a USB round trip, so a bus on these lines runs in the kHz range
// and needs a generous timeout.
type GPIOLine struct {
	dev   *MCP2221
	gp    int
	dir   usi.Direction
	latch gpio.Level
}

var _ usi.Line = &GPIOLine{}

func NewGPIOLine(dev *MCP2221, gp int) (*GPIOLine, error) {
	l := &GPIOLine{dev: dev, gp: gp, dir: usi.Input, latch: gpio.High}
	if err := l.apply(); err != nil {
		return nil, err
	}
	return l, nil
}

// DesignateGPIO switches the given pins to plain GPIO operation.
func DesignateGPIO(ctx context.Context, dev *MCP2221, gps ...int) error {
	params, err := dev.GetGPIOParameters(ctx)
	if err != nil {
		return err
	}
	designations := [4]*GPIODesignation{&params.GPIO0Designation, &params.GPIO1Designation, &params.GPIO2Designation, &params.GPIO3Designation}
	modes := [4]*GPIOMode{&params.GPIO0Mode, &params.GPIO1Mode, &params.GPIO2Mode, &params.GPIO3Mode}
	for _, gp := range gps {
		if gp < 0 || gp > 3 {
			return fmt.Errorf("no GP%d pin", gp)
		}
		*designations[gp] = GPIOOperation
		*modes[gp] = GPIOModeIn
	}
	return dev.SetGPIOParameters(ctx, params)
}

func (l *GPIOLine) High() error {
	l.latch = gpio.High
	return l.apply()
}

func (l *GPIOLine) Low() error {
	l.latch = gpio.Low
	return l.apply()
}

func (l *GPIOLine) Read() (gpio.Level, error) {
	values, err := l.dev.ReadGPIO(context.Background())
	if err != nil {
		return gpio.Low, fmt.Errorf("could not read GP%d: %w", l.gp, err)
	}
	v := [4]byte{values.GPIO0Value, values.GPIO1Value, values.GPIO2Value, values.GPIO3Value}[l.gp]
	return v != 0, nil
}

func (l *GPIOLine) SetDirection(dir usi.Direction) error {
	l.dir = dir
	return l.apply()
}

func (l *GPIOLine) Direction() usi.Direction {
	return l.dir
}

func (l *GPIOLine) Latch() gpio.Level {
	return l.latch
}

func (l *GPIOLine) String() string {
	return fmt.Sprintf("GP%d", l.gp)
}

func (l *GPIOLine) apply() error {
	var err error
	if l.dir == usi.Output && l.latch == gpio.Low {
		err = l.dev.SetGPIO(context.Background(), l.gp, GPIOModeOut, 0)
	} else {
		err = l.dev.SetGPIO(context.Background(), l.gp, GPIOModeIn, 0)
	}
	if err != nil {
		return fmt.Errorf("could not drive GP%d: %w", l.gp, err)
	}
	return nil
}
