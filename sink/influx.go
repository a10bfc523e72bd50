package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

const measurement = "climate"

type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Influx writes every sample as a point of the climate measurement, tagged
// with the station id.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

func NewInflux(cfg InfluxConfig) *Influx {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetPrecision(time.Second))
	return &Influx{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

func (i *Influx) Publish(ctx context.Context, s Sample) error {
	p := influxdb2.NewPointWithMeasurement(measurement).
		AddTag("station", strconv.Itoa(int(s.Station))).
		AddField("temperature", float64(s.Reading.Temperature)).
		AddField("humidity", float64(s.Reading.Humidity)).
		AddField("battery", int64(s.Battery)).
		SetTime(s.Time)
	if err := i.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("could not write sample to influx: %w", err)
	}
	return nil
}

func (i *Influx) Close() {
	i.client.Close()
}
