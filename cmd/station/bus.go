package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mklimuk/station"
	"github.com/mklimuk/station/adapter"
	"github.com/mklimuk/station/busctx"
	"github.com/mklimuk/station/config"
	"github.com/mklimuk/station/environment"
	"github.com/mklimuk/station/i2c"
	"github.com/mklimuk/station/usi"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

type closer func() error

func noClose() error { return nil }

// openBus builds the bus selected by the configuration.
func openBus(ctx context.Context, cfg config.Config) (station.I2CBus, closer, error) {
	if !cfg.Bitbanged() {
		return openHardwareBus(cfg)
	}
	scl, sda, release, err := openLines(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	m := usi.NewMaster(scl, sda, usi.WithConfig(cfg.Master()), usi.WithLogger(slog.Default().With("bus", cfg.Bus.Backend)))
	return usi.NewBus(m, string(cfg.Bus.Backend)), release, nil
}

func openHardwareBus(cfg config.Config) (station.I2CBus, closer, error) {
	switch cfg.Bus.Backend {
	case config.BackendI2CDev:
		bus, err := i2c.NewGenericBus(cfg.Bus.Device)
		if err != nil {
			return nil, nil, err
		}
		return bus, bus.Close, nil
	case config.BackendMCP2221:
		dev := adapter.NewMCP2221()
		if err := dev.Init(); err != nil {
			return nil, nil, fmt.Errorf("adapter initialization error: %w", err)
		}
		return dev, noClose, nil
	}
	return nil, nil, fmt.Errorf("unsupported bus backend %s", cfg.Bus.Backend)
}

func openLines(ctx context.Context, cfg config.Config) (usi.Line, usi.Line, closer, error) {
	switch cfg.Bus.Backend {
	case config.BackendPeriph:
		if _, err := host.Init(); err != nil {
			return nil, nil, nil, fmt.Errorf("could not init host: %w", err)
		}
		var lines [2]usi.Line
		for i, name := range []string{cfg.Bus.SCL, cfg.Bus.SDA} {
			pin := gpioreg.ByName(name)
			if pin == nil {
				return nil, nil, nil, fmt.Errorf("unknown pin %s", name)
			}
			l, err := usi.NewPeriphLine(pin)
			if err != nil {
				return nil, nil, nil, err
			}
			lines[i] = l
		}
		return lines[0], lines[1], noClose, nil
	case config.BackendGobot:
		a := nanopi.NewNeoAdaptor()
		if err := a.Connect(); err != nil {
			return nil, nil, nil, fmt.Errorf("could not connect nanopi adaptor: %w", err)
		}
		scl, err := usi.NewGobotLine(a, cfg.Bus.SCL)
		if err != nil {
			return nil, nil, nil, err
		}
		sda, err := usi.NewGobotLine(a, cfg.Bus.SDA)
		if err != nil {
			return nil, nil, nil, err
		}
		return scl, sda, a.Finalize, nil
	case config.BackendMCP2221GPIO:
		dev := adapter.NewMCP2221()
		var gps [2]int
		for i, name := range []string{cfg.Bus.SCL, cfg.Bus.SDA} {
			gp, err := strconv.Atoi(name)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("invalid GP pin %q: %w", name, err)
			}
			gps[i] = gp
		}
		if err := adapter.DesignateGPIO(ctx, dev, gps[0], gps[1]); err != nil {
			return nil, nil, nil, fmt.Errorf("could not designate GP pins: %w", err)
		}
		scl, err := adapter.NewGPIOLine(dev, gps[0])
		if err != nil {
			return nil, nil, nil, err
		}
		sda, err := adapter.NewGPIOLine(dev, gps[1])
		if err != nil {
			return nil, nil, nil, err
		}
		return scl, sda, noClose, nil
	}
	return nil, nil, nil, fmt.Errorf("unsupported bus backend %s", cfg.Bus.Backend)
}

// openSensor opens the bus and the HDC1080 on it. Bus tracing is enabled on
// the returned context for the diagnostic variant.
func openSensor(ctx context.Context, cfg config.Config) (context.Context, *environment.HDC1080, closer, error) {
	if cfg.Diagnostics() {
		ctx = busctx.SetVerbose(ctx, true)
	}
	bus, release, err := openBus(ctx, cfg)
	if err != nil {
		return ctx, nil, nil, err
	}
	s := environment.NewHDC1080(bus, cfg.SensorOptions()...)
	return ctx, s, release, nil
}
