package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mklimuk/station/cmd/station/console"
	"github.com/mklimuk/station/config"
	"github.com/mklimuk/station/environment"
	"github.com/mklimuk/station/packet"
	"github.com/mklimuk/station/server"
	"github.com/mklimuk/station/sink"
	"github.com/urfave/cli/v2"
)

// averager is satisfied by the HDC1080 and by the dry run sensor.
type averager interface {
	MeasureAverage(ctx context.Context, n int) (environment.Reading, error)
}

type batteryReporter interface {
	BatteryLow(ctx context.Context) (bool, error)
}

type dryRunSensor struct {
	*environment.MockClimateSensor
}

func (d dryRunSensor) MeasureAverage(ctx context.Context, n int) (environment.Reading, error) {
	return d.Measure(ctx)
}

var watchCmd = cli.Command{
	Name:  "watch",
	Usage: "measure periodically and publish samples",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "measurement interval (defaults to the configured one)",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "publish generated readings instead of using the bus",
		},
	},
	Action: func(c *cli.Context) error {
		cfg := stationConfig(c)
		if c.IsSet("interval") {
			cfg.Interval = c.Duration("interval")
		}
		if cfg.Interval <= 0 {
			return console.Exit(1, "interval must be positive, got %s", cfg.Interval)
		}
		ctx, stop := signal.NotifyContext(commandContext(c), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var sensor averager
		if c.Bool("dry-run") {
			sensor = dryRunSensor{environment.NewMockClimateSensor(
				func(ctx context.Context) (float32, error) { return 18 + rand.Float32()*8, nil },
				func(ctx context.Context) (float32, error) { return 35 + rand.Float32()*30, nil },
			)}
		} else {
			sctx, s, release, err := openSensor(ctx, cfg)
			if err != nil {
				return console.Exit(1, "could not open sensor: %s", console.Red(err))
			}
			defer release()
			if err := s.Initialize(sctx); err != nil {
				return console.Exit(1, "sensor initialization error: %s", console.Red(err))
			}
			ctx = sctx
			sensor = s
		}

		publishers := sink.Multi{sink.Log{Logger: slog.Default()}}
		if cfg.Influx.URL != "" {
			influx := sink.NewInflux(cfg.Influx)
			defer influx.Close()
			publishers = append(publishers, influx)
		}
		errc := make(chan error, 1)
		if cfg.Server.Listen != "" {
			hub := server.NewHub(slog.Default().With("component", "hub"))
			publishers = append(publishers, hub)
			go func() {
				errc <- hub.Run(ctx, cfg.Server.Listen)
			}()
		}

		console.Infof("watching every %s", console.White(cfg.Interval))
		err := watch(ctx, cfg, sensor, publishers, errc)
		if err != nil && !errors.Is(err, context.Canceled) {
			return console.Exit(1, "watch error: %s", console.Red(err))
		}
		console.PInfof(console.PictoStop, "stopped")
		return nil
	},
}

// watch publishes one averaged sample per interval until the context ends.
// Measurement and publish failures are logged and do not stop the loop.
func watch(ctx context.Context, cfg config.Config, sensor averager, pub sink.Publisher, errc <-chan error) error {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := sensor.MeasureAverage(ctx, cfg.Samples)
		switch {
		case err != nil:
			slog.ErrorContext(ctx, "measurement failed", "error", err)
		default:
			s := sink.Sample{Station: cfg.Station.ID, Reading: r, Battery: packet.BatteryOK, Time: time.Now()}
			if br, ok := sensor.(batteryReporter); ok {
				low, err := br.BatteryLow(ctx)
				if err != nil {
					slog.WarnContext(ctx, "battery status unavailable", "error", err)
				}
				s.Battery = packet.BatteryLevel(low)
			}
			if err := pub.Publish(ctx, s); err != nil {
				slog.WarnContext(ctx, "publish failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case <-ticker.C:
		}
	}
}
