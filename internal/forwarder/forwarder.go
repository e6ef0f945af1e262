// Package forwarder batches decoded envelopes and delivers them to the
// supervisor.
package forwarder

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"
	obsmetrics "github.com/smallbiznis/plantwatch/internal/observability/metrics"
	"github.com/smallbiznis/plantwatch/internal/telemetry"
	"go.uber.org/zap"
)

// Forwarder owns a bounded queue and a single run loop that drains it into
// batches. Submit is safe for concurrent use; Run must be called once.
type Forwarder struct {
	cfg     Config
	target  Target
	log     *zap.Logger
	metrics *obsmetrics.PipelineMetrics

	queue chan telemetry.Envelope
	seq   atomic.Uint64
	done  chan struct{}
}

func New(cfg Config, target Target, log *zap.Logger, metrics *obsmetrics.PipelineMetrics) *Forwarder {
	cfg = cfg.withDefaults()
	return &Forwarder{
		cfg:     cfg,
		target:  target,
		log:     log.Named("router.forwarder"),
		metrics: metrics,
		queue:   make(chan telemetry.Envelope, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

// Submit enqueues env without blocking. It reports false when the queue is
// full and the envelope was dropped.
func (f *Forwarder) Submit(env telemetry.Envelope) bool {
	select {
	case f.queue <- env:
		return true
	default:
		f.metrics.RecordEnvelopesDropped(obsmetrics.DropReasonQueueFull, 1)
		f.log.Debug("forward queue full, envelope dropped",
			zap.String("device_uid", env.DeviceUID),
			zap.String("ingest_id", env.IngestID),
		)
		return false
	}
}

// Done is closed once Run has flushed its last batch.
func (f *Forwarder) Done() <-chan struct{} {
	return f.done
}

// Run batches envelopes until ctx is cancelled, then drains the queue and
// flushes what is left within FlushTimeout. A batch interrupted by the
// cancellation is resent during that final flush.
func (f *Forwarder) Run(ctx context.Context) {
	defer close(f.done)

	buffer := make([]telemetry.Envelope, 0, f.cfg.BatchSize)
	var interrupted []telemetry.Batch
	timer := time.NewTimer(f.cfg.MaxWait)
	timer.Stop()
	var timerC <-chan time.Time

	flush := func(trigger string) {
		timer.Stop()
		timerC = nil
		if len(buffer) == 0 {
			return
		}
		batch := f.nextBatch(buffer)
		buffer = make([]telemetry.Envelope, 0, f.cfg.BatchSize)
		f.metrics.RecordFlush(trigger, len(batch.Envelopes))
		if err := f.deliver(ctx, batch); err != nil && ctx.Err() != nil {
			interrupted = append(interrupted, batch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			f.shutdown(interrupted, buffer)
			return
		case env := <-f.queue:
			buffer = append(buffer, env)
			if len(buffer) == 1 {
				timer.Reset(f.cfg.MaxWait)
				timerC = timer.C
			}
			if len(buffer) >= f.cfg.BatchSize {
				flush(obsmetrics.FlushTriggerSize)
			}
		case <-timerC:
			flush(obsmetrics.FlushTriggerTimer)
		}
	}
}

func (f *Forwarder) shutdown(interrupted []telemetry.Batch, buffer []telemetry.Envelope) {
	flushCtx, cancel := context.WithTimeout(context.Background(), f.cfg.FlushTimeout)
	defer cancel()

drain:
	for {
		select {
		case env := <-f.queue:
			buffer = append(buffer, env)
		default:
			break drain
		}
	}

	for _, batch := range interrupted {
		_ = f.deliver(flushCtx, batch)
	}
	for len(buffer) > 0 {
		n := min(len(buffer), f.cfg.BatchSize)
		batch := f.nextBatch(buffer[:n])
		buffer = buffer[n:]
		f.metrics.RecordFlush(obsmetrics.FlushTriggerShutdown, len(batch.Envelopes))
		_ = f.deliver(flushCtx, batch)
	}
}

func (f *Forwarder) nextBatch(envelopes []telemetry.Envelope) telemetry.Batch {
	out := make([]telemetry.Envelope, len(envelopes))
	copy(out, envelopes)
	return telemetry.Batch{
		ID:        ulid.Make().String(),
		Seq:       f.seq.Add(1),
		Envelopes: out,
	}
}

// deliver retries with exponential backoff. A batch that exhausts its
// attempts, or meets a permanent error, is dropped. An error caused by ctx
// being cancelled is returned without counting a drop.
func (f *Forwarder) deliver(ctx context.Context, batch telemetry.Batch) error {
	log := f.log.With(
		zap.String("batch_id", batch.ID),
		zap.Uint64("seq", batch.Seq),
		zap.Int("envelopes", len(batch.Envelopes)),
	)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.cfg.RetryInitial
	policy.MaxInterval = f.cfg.RetryMax

	attempts := 0
	resp, err := backoff.Retry(ctx, func() (telemetry.BatchResponse, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
		defer cancel()

		out, err := f.target.Forward(attemptCtx, batch)
		f.metrics.RecordForwardAttempt(err)
		if err != nil {
			log.Debug("forward attempt failed", zap.Int("attempt", attempts), zap.Error(err))
		}
		return out, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(f.cfg.MaxAttempts)),
	)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			log.Info("batch delivery interrupted", zap.Int("attempts", attempts))
			return err
		}
		f.metrics.RecordBatchDropped(len(batch.Envelopes))
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			log.Error("batch refused by supervisor, dropped", zap.Int("status", statusErr.Code), zap.Error(err))
			return err
		}
		log.Error("batch dropped after retries", zap.Int("attempts", attempts), zap.Error(err))
		return err
	}

	rejected := 0
	for _, d := range resp.Dispositions {
		if d.Status == telemetry.StatusRejected {
			rejected++
			log.Debug("envelope rejected by supervisor",
				zap.String("ingest_id", d.IngestID),
				zap.String("reason", d.Reason),
			)
		}
	}
	if rejected > 0 {
		log.Warn("batch forwarded with rejections", zap.Int("rejected", rejected))
	}
	for _, change := range resp.StatusChanges {
		log.Info("plant status changed",
			zap.String("plant_id", change.PlantID),
			zap.String("prev_severity", change.PrevSeverity),
			zap.String("new_severity", change.NewSeverity),
			zap.Int64("occurred_at_ns", change.OccurredAtNs),
		)
	}
	return nil
}
