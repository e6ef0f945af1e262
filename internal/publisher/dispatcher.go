package publisher

import (
	"context"
	"sync"
	"time"

	obsmetrics "github.com/smallbiznis/plantwatch/internal/observability/metrics"
	"github.com/smallbiznis/plantwatch/internal/plantstate/liveevents"
	"github.com/smallbiznis/plantwatch/internal/telemetry"
	"go.uber.org/zap"
)

const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

type DispatcherConfig struct {
	QueueSize      int
	Workers        int
	PublishTimeout time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:      1024,
		Workers:        1,
		PublishTimeout: 2 * time.Second,
	}
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	defaults := DefaultDispatcherConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = defaults.QueueSize
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaults.PublishTimeout
	}
	return c
}

// Notification is one committed severity transition.
type Notification struct {
	Change telemetry.StatusChange
	Live   liveevents.LiveEvent
}

// Dispatcher decouples bus delivery from the ingest path. Enqueue never
// blocks and publishes are never retried.
type Dispatcher struct {
	pub        Publisher
	hub        *liveevents.Hub
	log        *zap.Logger
	cfg        DispatcherConfig
	metrics    *obsmetrics.PipelineMetrics
	obsMetrics *obsmetrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan telemetry.StatusChange
	wg     sync.WaitGroup
}

func NewDispatcher(
	pub Publisher,
	hub *liveevents.Hub,
	log *zap.Logger,
	cfg DispatcherConfig,
	metrics *obsmetrics.PipelineMetrics,
	obsMetrics *obsmetrics.Metrics,
) *Dispatcher {
	if pub == nil {
		pub = Noop{}
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		pub:        pub,
		hub:        hub,
		log:        log.Named("publisher.dispatcher"),
		cfg:        cfg,
		metrics:    metrics,
		obsMetrics: obsMetrics,
		queue:      make(chan telemetry.StatusChange, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Enqueue fans the transition out to live subscribers and queues it for the
// bus. It reports false when the bus queue was full or closed.
func (d *Dispatcher) Enqueue(n Notification) bool {
	d.hub.Publish(n.Change.PlantID, n.Live)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(n.Change, "dispatcher closed")
		return false
	}
	select {
	case d.queue <- n.Change:
		return true
	default:
		d.drop(n.Change, "publish queue full")
		return false
	}
}

func (d *Dispatcher) drop(change telemetry.StatusChange, why string) {
	d.metrics.RecordPublishDropped()
	d.obsMetrics.RecordPublish(context.Background(), d.pub.Name(), OutcomeDropped)
	d.log.Warn("status change dropped",
		zap.String("reason", why),
		zap.String("plant_id", change.PlantID),
		zap.String("new_severity", change.NewSeverity),
	)
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for change := range d.queue {
		d.publish(change)
	}
}

func (d *Dispatcher) publish(change telemetry.StatusChange) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
	defer cancel()

	if err := d.pub.Publish(ctx, change); err != nil {
		d.obsMetrics.RecordPublish(ctx, d.pub.Name(), OutcomeFailed)
		d.log.Warn("status change publish failed",
			zap.Error(err),
			zap.String("transport", d.pub.Name()),
			zap.String("plant_id", change.PlantID),
		)
		return
	}
	d.obsMetrics.RecordPublish(ctx, d.pub.Name(), OutcomeSent)
}

// Close stops intake, drains queued changes until ctx expires, then closes
// the publisher.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.log.Warn("publish queue not drained before shutdown", zap.Int("pending", len(d.queue)))
	}
	return d.pub.Close()
}
