package environment

import (
	"context"
)

// TemperatureBehaviorFunc returns the temperature in Celsius or an error.
type TemperatureBehaviorFunc func(ctx context.Context) (float32, error)

// HumidityBehaviorFunc returns the relative humidity in %RH or an error.
type HumidityBehaviorFunc func(ctx context.Context) (float32, error)

// MockClimateSensor produces readings from behavior functions, without any
// hardware. It stands in for the HDC1080 in the CLI dry-run mode and in tests.
//
//	sensor := NewMockClimateSensor(
//		func(ctx context.Context) (float32, error) { return 22.5, nil },
//		func(ctx context.Context) (float32, error) { return 45.0, nil },
//	)
type MockClimateSensor struct {
	tempBehavior TemperatureBehaviorFunc
	humBehavior  HumidityBehaviorFunc
}

func NewMockClimateSensor(tempBehavior TemperatureBehaviorFunc, humBehavior HumidityBehaviorFunc) *MockClimateSensor {
	return &MockClimateSensor{
		tempBehavior: tempBehavior,
		humBehavior:  humBehavior,
	}
}

// NewStaticClimateSensor always reports the same reading.
func NewStaticClimateSensor(r Reading) *MockClimateSensor {
	return NewMockClimateSensor(
		func(ctx context.Context) (float32, error) { return r.Temperature, nil },
		func(ctx context.Context) (float32, error) { return r.Humidity, nil },
	)
}

// Measure calls the temperature behavior first, then the humidity one.
func (m *MockClimateSensor) Measure(ctx context.Context) (Reading, error) {
	temp, err := m.tempBehavior(ctx)
	if err != nil {
		return Reading{}, err
	}
	hum, err := m.humBehavior(ctx)
	if err != nil {
		return Reading{}, err
	}
	return Reading{Temperature: temp, Humidity: hum}, nil
}

func (m *MockClimateSensor) GetTemperature(ctx context.Context) (float32, error) {
	return m.tempBehavior(ctx)
}

func (m *MockClimateSensor) GetHumidity(ctx context.Context) (float32, error) {
	return m.humBehavior(ctx)
}

func (m *MockClimateSensor) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	r, err := m.Measure(ctx)
	if err != nil {
		return 0, 0, err
	}
	return r.Temperature, r.Humidity, nil
}
