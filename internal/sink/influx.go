package sink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/smallbiznis/plantwatch/internal/config"
)

// Influx writes one line-protocol point per reading through the blocking
// write API.
type Influx struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

func NewInflux(cfg config.InfluxConfig, timeout time.Duration) *Influx {
	opts := influxdb2.DefaultOptions()
	if timeout > 0 {
		seconds := uint(timeout / time.Second)
		if seconds == 0 {
			seconds = 1
		}
		opts.SetHTTPRequestTimeout(seconds)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &Influx{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

func (s *Influx) Name() string { return "influxdb" }

func (s *Influx) Write(ctx context.Context, point Point) error {
	if err := point.validate(); err != nil {
		return err
	}
	tags := map[string]string{
		"plant_id":   point.PlantID,
		"device_uid": point.DeviceUID,
	}
	fields := make(map[string]interface{}, len(point.Metrics))
	for name, value := range point.Metrics {
		fields[name] = value
	}
	p := influxdb2.NewPoint(Measurement, tags, fields, point.Time)
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

func (s *Influx) Close() {
	s.client.Close()
}
