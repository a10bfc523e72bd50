package environment

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
)

func TestMockClimateSensor_StaticValues(t *testing.T) {
	sensor := NewStaticClimateSensor(Reading{Temperature: 22.5, Humidity: 45.0})

	ctx := context.Background()

	temp, err := sensor.GetTemperature(ctx)
	if err != nil {
		t.Fatalf("GetTemperature: unexpected error: %v", err)
	}
	if temp != 22.5 {
		t.Errorf("expected temperature 22.5, got %f", temp)
	}

	hum, err := sensor.GetHumidity(ctx)
	if err != nil {
		t.Fatalf("GetHumidity: unexpected error: %v", err)
	}
	if hum != 45.0 {
		t.Errorf("expected humidity 45.0, got %f", hum)
	}

	r, err := sensor.Measure(ctx)
	if err != nil {
		t.Fatalf("Measure: unexpected error: %v", err)
	}
	if r != (Reading{Temperature: 22.5, Humidity: 45.0}) {
		t.Errorf("expected 22.5/45.0, got %f/%f", r.Temperature, r.Humidity)
	}
}

func TestMockClimateSensor_DynamicBehavior(t *testing.T) {
	currentTemp := float32(20.0)
	currentHum := float32(50.0)

	sensor := NewMockClimateSensor(
		func(ctx context.Context) (float32, error) { return currentTemp, nil },
		func(ctx context.Context) (float32, error) { return currentHum, nil },
	)

	ctx := context.Background()

	temp, hum, err := sensor.GetTempAndHum(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if temp != 20.0 || hum != 50.0 {
		t.Errorf("expected 20.0/50.0, got %f/%f", temp, hum)
	}

	currentTemp = 25.0
	currentHum = 60.0

	temp, hum, err = sensor.GetTempAndHum(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if temp != 25.0 || hum != 60.0 {
		t.Errorf("expected 25.0/60.0, got %f/%f", temp, hum)
	}
}

func TestMockClimateSensor_ErrorHandling(t *testing.T) {
	humCalls := 0
	sensor := NewMockClimateSensor(
		func(ctx context.Context) (float32, error) {
			return 0, fmt.Errorf("temperature sensor error")
		},
		func(ctx context.Context) (float32, error) {
			humCalls++
			return 0, fmt.Errorf("humidity sensor error")
		},
	)

	ctx := context.Background()

	r, err := sensor.Measure(ctx)
	if err == nil || err.Error() != "temperature sensor error" {
		t.Errorf("Measure: expected temperature sensor error, got %v", err)
	}
	if r != (Reading{}) {
		t.Errorf("Measure: expected zero reading on error, got %+v", r)
	}
	if humCalls != 0 {
		t.Errorf("Measure: humidity behavior called after temperature failure")
	}

	_, err = sensor.GetHumidity(ctx)
	if err == nil || err.Error() != "humidity sensor error" {
		t.Errorf("GetHumidity: expected specific error, got %v", err)
	}
}

func TestMockClimateSensor_ContextUsage(t *testing.T) {
	var receivedCtx context.Context

	sensor := NewMockClimateSensor(
		func(ctx context.Context) (float32, error) {
			receivedCtx = ctx
			return 20.0, nil
		},
		func(ctx context.Context) (float32, error) { return 50.0, nil },
	)

	type contextKey string
	key := contextKey("test")
	ctx := context.WithValue(context.Background(), key, "test-value")

	if _, err := sensor.Measure(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receivedCtx.Value(key) != "test-value" {
		t.Error("context was not passed through to temperature behavior")
	}
}

func TestMockClimateSensor_RandomValues(t *testing.T) {
	sensor := NewMockClimateSensor(
		func(ctx context.Context) (float32, error) {
			// Random temperature between 15-30°C
			return 15.0 + rand.Float32()*15.0, nil
		},
		func(ctx context.Context) (float32, error) {
			// Random humidity between 30-70%
			return 30.0 + rand.Float32()*40.0, nil
		},
	)

	ctx := context.Background()

	for i := 0; i < 10; i++ {
		r, err := sensor.Measure(ctx)
		if err != nil {
			t.Fatalf("iteration %d: unexpected error: %v", i, err)
		}
		if r.Temperature < 15.0 || r.Temperature > 30.0 {
			t.Errorf("iteration %d: temperature %f out of range [15, 30]", i, r.Temperature)
		}
		if r.Humidity < 30.0 || r.Humidity > 70.0 {
			t.Errorf("iteration %d: humidity %f out of range [30, 70]", i, r.Humidity)
		}
	}
}
