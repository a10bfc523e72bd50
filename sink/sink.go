package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/station/environment"
)

// Sample is one measurement of a station, ready for publishing.
type Sample struct {
	Station uint8               `json:"station_id"`
	Reading environment.Reading `json:"reading"`
	Battery uint8               `json:"battery"`
	Time    time.Time           `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, s Sample) error
}

// Multi publishes to every publisher, collecting all failures.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, s Sample) error {
	var errs []error
	for i, p := range m {
		if err := p.Publish(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Log writes samples to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Publish(ctx context.Context, s Sample) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "sample",
		"station", s.Station,
		"temperature", s.Reading.Temperature,
		"humidity", s.Reading.Humidity,
		"battery", s.Battery)
	return nil
}
