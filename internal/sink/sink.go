// Package sink persists raw readings to a time-series store.
package sink

import (
	"context"
	"errors"
	"time"
)

const Measurement = "plant_telemetry"

var ErrEmptyPoint = errors.New("empty_point")

// Point is one accepted reading tagged with its plant.
type Point struct {
	PlantID   string
	DeviceUID string
	IngestID  string
	Metrics   map[string]float64
	Time      time.Time
}

func (p Point) validate() error {
	if p.PlantID == "" || len(p.Metrics) == 0 {
		return ErrEmptyPoint
	}
	return nil
}

type Sink interface {
	Write(ctx context.Context, point Point) error
	Name() string
}
