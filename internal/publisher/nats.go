package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smallbiznis/plantwatch/internal/telemetry"
)

type NATS struct {
	conn    *nats.Conn
	subject string
}

func NewNATS(busURL, subject string) (*NATS, error) {
	conn, err := nats.Connect(busURL,
		nats.Name("plantwatch-supervisor"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATS{conn: conn, subject: subject}, nil
}

func (p *NATS) Name() string { return "nats" }

// Publish hands the message to the client buffer, then flushes within the
// context deadline.
func (p *NATS) Publish(ctx context.Context, change telemetry.StatusChange) error {
	body, err := encode(change)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = body
	msg.Header.Set("Content-Type", "application/json")
	msg.Header.Set("Nats-Msg-Id", fmt.Sprintf("%s:%d", change.PlantID, change.OccurredAtNs))
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

func (p *NATS) Close() error {
	return p.conn.Drain()
}
