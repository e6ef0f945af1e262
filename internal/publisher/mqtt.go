package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/smallbiznis/plantwatch/internal/telemetry"
	"go.uber.org/zap"
)

var errMQTTTimeout = errors.New("mqtt_timeout")

const mqttQoS = 1

type MQTT struct {
	client paho.Client
	topic  string
}

func NewMQTT(ctx context.Context, broker, topic string, log *zap.Logger) (*MQTT, error) {
	mqttLog := log.Named("publisher.mqtt")
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("plantwatch-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			mqttLog.Warn("mqtt connection lost", zap.Error(err))
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !waitToken(ctx, token, 10*time.Second) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect: %w", errMQTTTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &MQTT{client: client, topic: topic}, nil
}

func (p *MQTT) Name() string { return "mqtt" }

func (p *MQTT) Publish(ctx context.Context, change telemetry.StatusChange) error {
	body, err := encode(change)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topic, mqttQoS, false, body)
	if !waitToken(ctx, token, 5*time.Second) {
		return fmt.Errorf("mqtt publish: %w", errMQTTTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

func (p *MQTT) Close() error {
	p.client.Disconnect(1000)
	return nil
}

// waitToken bounds the wait by the context deadline when one is set.
func waitToken(ctx context.Context, token paho.Token, fallback time.Duration) bool {
	timeout := fallback
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return false
	}
	return token.WaitTimeout(timeout)
}
