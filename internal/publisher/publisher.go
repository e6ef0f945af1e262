// Package publisher delivers plant status changes to the downstream bus.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/smallbiznis/plantwatch/internal/telemetry"
	"go.uber.org/zap"
)

const (
	QueueStatusChange   = "plant.status_change"
	SubjectStatusChange = "plant.status_change"
	TopicStatusChange   = "plant/status_change"
)

var ErrUnsupportedScheme = errors.New("unsupported_bus_scheme")

type Publisher interface {
	Publish(ctx context.Context, change telemetry.StatusChange) error
	Name() string
	Close() error
}

// New connects the publisher named by the bus URL scheme. An empty URL
// yields Noop.
func New(ctx context.Context, busURL string, log *zap.Logger) (Publisher, error) {
	busURL = strings.TrimSpace(busURL)
	if busURL == "" {
		return Noop{}, nil
	}
	u, err := url.Parse(busURL)
	if err != nil {
		return nil, fmt.Errorf("parse bus url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "amqp", "amqps":
		return NewAMQP(busURL, QueueStatusChange)
	case "nats", "tls":
		return NewNATS(busURL, SubjectStatusChange)
	case "tcp", "mqtt", "ssl", "mqtts", "ws", "wss":
		return NewMQTT(ctx, busURL, TopicStatusChange, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

func encode(change telemetry.StatusChange) ([]byte, error) {
	if change.Type == "" {
		change.Type = telemetry.StatusChangeType
	}
	return json.Marshal(change)
}

// Noop discards every change.
type Noop struct{}

func (Noop) Publish(context.Context, telemetry.StatusChange) error { return nil }
func (Noop) Name() string                                           { return "noop" }
func (Noop) Close() error                                           { return nil }
