package environment

import "context"

// ClimateSensor delivers combined temperature and humidity readings.
type ClimateSensor interface {
	Measure(ctx context.Context) (Reading, error)
}

var _ ClimateSensor = &HDC1080{}
var _ ClimateSensor = &MockClimateSensor{}
