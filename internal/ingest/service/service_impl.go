package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/plantwatch/internal/clock"
	"github.com/smallbiznis/plantwatch/internal/config"
	ingestdomain "github.com/smallbiznis/plantwatch/internal/ingest/domain"
	"github.com/smallbiznis/plantwatch/internal/ingestid"
	ledgerdomain "github.com/smallbiznis/plantwatch/internal/ledger/domain"
	"github.com/smallbiznis/plantwatch/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/plantwatch/internal/observability/metrics"
	"github.com/smallbiznis/plantwatch/internal/observability/tracing"
	"github.com/smallbiznis/plantwatch/internal/plantlock"
	plantstatedomain "github.com/smallbiznis/plantwatch/internal/plantstate/domain"
	"github.com/smallbiznis/plantwatch/internal/plantstate/liveevents"
	"github.com/smallbiznis/plantwatch/internal/publisher"
	registrydomain "github.com/smallbiznis/plantwatch/internal/registry/domain"
	"github.com/smallbiznis/plantwatch/internal/sink"
	"github.com/smallbiznis/plantwatch/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultSinkTimeout = 2 * time.Second
	finalizeTimeout    = 2 * time.Second
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config `optional:"true"`
	Ledger     ledgerdomain.Repository
	Registry   registrydomain.Repository
	Resolver   registrydomain.Resolver
	State      plantstatedomain.Service
	Sink       sink.Sink
	Locker     plantlock.Locker
	Dispatcher *publisher.Dispatcher       `optional:"true"`
	Clock      clock.Clock                 `optional:"true"`
	Metrics    *obsmetrics.PipelineMetrics `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	ledger     ledgerdomain.Repository
	registry   registrydomain.Repository
	resolver   registrydomain.Resolver
	state      plantstatedomain.Service
	sink       sink.Sink
	locker     plantlock.Locker
	dispatcher *publisher.Dispatcher
	clock      clock.Clock
	metrics    *obsmetrics.PipelineMetrics
	obsMetrics *obsmetrics.Metrics
	tracer     trace.Tracer

	sinkTimeout time.Duration
}

func NewService(p ServiceParam) ingestdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	locker := p.Locker
	if locker == nil {
		locker = plantlock.NewKeyedMutex()
	}
	sinkTimeout := p.Config.Supervisor.SinkTimeout
	if sinkTimeout <= 0 {
		sinkTimeout = defaultSinkTimeout
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("ingest.service"),
		ledger:      p.Ledger,
		registry:    p.Registry,
		resolver:    p.Resolver,
		state:       p.State,
		sink:        p.Sink,
		locker:      locker,
		dispatcher:  p.Dispatcher,
		clock:       clk,
		metrics:     p.Metrics,
		obsMetrics:  p.ObsMetrics,
		tracer:      otel.Tracer("plantwatch/ingest"),
		sinkTimeout: sinkTimeout,
	}
}

func (s *Service) IngestBatch(ctx context.Context, batch telemetry.Batch) (telemetry.BatchResponse, error) {
	ctx = logger.WithBatchID(ctx, batch.ID)
	ctx, span := s.tracer.Start(ctx, "ingest.batch")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("batch_id", batch.ID),
		attribute.Int("batch_size", len(batch.Envelopes)),
	)...)

	s.obsMetrics.RecordBatch(ctx, len(batch.Envelopes))

	resp := telemetry.BatchResponse{
		BatchID:       batch.ID,
		Dispositions:  make([]telemetry.Disposition, 0, len(batch.Envelopes)),
		StatusChanges: []telemetry.StatusChange{},
	}
	rejected := 0
	for _, env := range batch.Envelopes {
		d, change := s.ingestOne(ctx, env)
		if d.Status == telemetry.StatusRejected {
			rejected++
		}
		s.obsMetrics.RecordDisposition(ctx, string(d.Status), d.Reason)
		resp.Dispositions = append(resp.Dispositions, d)
		if change != nil {
			resp.StatusChanges = append(resp.StatusChanges, *change)
		}
	}

	if rejected > 0 {
		span.SetStatus(codes.Error, "envelopes rejected")
	}
	logger.WithContext(ctx, s.log).Debug("batch ingested",
		zap.Uint64("seq", batch.Seq),
		zap.Int("envelopes", len(batch.Envelopes)),
		zap.Int("rejected", rejected),
		zap.Int("status_changes", len(resp.StatusChanges)),
	)
	return resp, nil
}

// ingestOne returns the envelope's disposition and, when the reading moved
// the plant's aggregate severity, the committed status change.
func (s *Service) ingestOne(ctx context.Context, env telemetry.Envelope) (telemetry.Disposition, *telemetry.StatusChange) {
	env = ingestid.Ensure(env)
	log := logger.WithPlant(logger.WithContext(ctx, s.log), "", env.DeviceUID).
		With(zap.String("ingest_id", env.IngestID))

	if err := env.Validate(); err != nil {
		log.Warn("envelope rejected", zap.String("reason", ingestdomain.ReasonInvalidEnvelope))
		return telemetry.Rejected(env.IngestID, ingestdomain.ReasonInvalidEnvelope), nil
	}

	receivedAt := s.clock.Now()
	claim, err := s.ledger.Claim(ctx, s.db, ledgerdomain.ClaimRequest{
		IngestID:    env.IngestID,
		DeviceUID:   env.DeviceUID,
		TimestampNs: int64(env.TimestampNs),
		ContentHash: ingestid.ContentHash(env.Metrics),
		ReceivedAt:  receivedAt,
	})
	if err != nil {
		log.Warn("ledger claim failed", zap.Error(err))
		return telemetry.Rejected(env.IngestID, ingestdomain.ReasonLedgerUnavailable), nil
	}
	if !claim.Claimed {
		return telemetry.Duplicate(env.IngestID), nil
	}

	res, err := s.resolver.Resolve(ctx, env.DeviceUID)
	if err != nil {
		reason := registryReason(err)
		if reason == ingestdomain.ReasonRegistryUnavailable {
			log.Warn("registry lookup failed", zap.Error(err))
		}
		return s.reject(ctx, log, env, claim, nil, reason), nil
	}

	plantID := res.Plant.ID
	log = logger.WithPlant(log, plantID.String(), "")

	if err := s.writeSink(ctx, env, res); err != nil {
		log.Warn("sink write failed", zap.String("sink", s.sink.Name()), zap.Error(err))
		return s.reject(ctx, log, env, claim, &plantID, ingestdomain.ReasonSinkWriteFailed), nil
	}

	result, err := s.commit(ctx, env, claim, res, receivedAt)
	if err != nil {
		log.Error("state update failed", zap.Error(err))
		return s.reject(ctx, log, env, claim, &plantID, ingestdomain.ReasonStateUpdateFailed), nil
	}

	if !result.Changed() {
		return telemetry.Accepted(env.IngestID), nil
	}
	s.obsMetrics.RecordTickerEvent(ctx, result.Event.Severity)
	change := telemetry.StatusChange{
		Type:         telemetry.StatusChangeType,
		PlantID:      plantID.String(),
		PrevSeverity: result.Event.PrevSeverity,
		NewSeverity:  result.Event.Severity,
		OccurredAtNs: int64(env.TimestampNs),
	}
	s.notify(change, result)
	return telemetry.Accepted(env.IngestID), &change
}

func (s *Service) writeSink(ctx context.Context, env telemetry.Envelope, res *registrydomain.Resolution) error {
	sinkCtx, cancel := context.WithTimeout(ctx, s.sinkTimeout)
	defer cancel()

	start := time.Now()
	err := s.sink.Write(sinkCtx, sink.Point{
		PlantID:   res.Plant.ID.String(),
		DeviceUID: env.DeviceUID,
		IngestID:  env.IngestID,
		Metrics:   env.Metrics,
		Time:      env.Time(),
	})
	s.metrics.RecordSinkWrite(s.sink.Name(), time.Since(start).Seconds(), err)
	return err
}

// commit applies the reading under the plant lock. State, ticker, device
// and ledger writes share one transaction.
func (s *Service) commit(
	ctx context.Context,
	env telemetry.Envelope,
	claim ledgerdomain.Claim,
	res *registrydomain.Resolution,
	receivedAt time.Time,
) (plantstatedomain.ApplyResult, error) {
	plantID := res.Plant.ID
	unlock, err := s.locker.Lock(ctx, plantID.String())
	if err != nil {
		return plantstatedomain.ApplyResult{}, err
	}
	defer unlock()

	var result plantstatedomain.ApplyResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.state.Apply(ctx, tx, plantstatedomain.ApplyRequest{
			PlantID:    plantID,
			PlantName:  res.Plant.Name,
			DeviceID:   res.Device.ID,
			IngestID:   env.IngestID,
			Metrics:    env.Metrics,
			Bounds:     registrydomain.BoundsByMetric(res.Thresholds),
			ObservedAt: env.Time(),
		})
		if err != nil {
			return err
		}
		if err := s.registry.TouchDevice(ctx, tx, res.Device.ID, receivedAt, env.IngestID); err != nil {
			return err
		}
		return s.ledger.Finalize(ctx, tx, ledgerdomain.FinalizeRequest{
			EntryID:     claim.EntryID,
			Result:      ledgerdomain.ResultOK,
			PlantID:     &plantID,
			FinalizedAt: s.clock.Now(),
		})
	})
	return result, err
}

// reject finalizes the claimed row as ERROR so a resend is retried. The
// finalize runs detached from ctx, which may already be cancelled.
func (s *Service) reject(
	ctx context.Context,
	log *zap.Logger,
	env telemetry.Envelope,
	claim ledgerdomain.Claim,
	plantID *snowflake.ID,
	reason string,
) telemetry.Disposition {
	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	err := s.ledger.Finalize(finalizeCtx, s.db, ledgerdomain.FinalizeRequest{
		EntryID:     claim.EntryID,
		Result:      ledgerdomain.ResultError,
		Reason:      reason,
		PlantID:     plantID,
		FinalizedAt: s.clock.Now(),
	})
	if err != nil {
		log.Error("ledger finalize failed", zap.String("reason", reason), zap.Error(err))
	}
	log.Warn("envelope rejected", zap.String("reason", reason))
	return telemetry.Rejected(env.IngestID, reason)
}

func (s *Service) notify(change telemetry.StatusChange, result plantstatedomain.ApplyResult) {
	if s.dispatcher == nil {
		return
	}
	event := result.Event
	s.dispatcher.Enqueue(publisher.Notification{
		Change: change,
		Live: liveevents.LiveEvent{
			EventID:      event.ID.String(),
			PlantID:      change.PlantID,
			Kind:         event.Kind,
			Severity:     event.Severity,
			PrevSeverity: event.PrevSeverity,
			Message:      event.Message,
			OccurredAt:   event.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

func registryReason(err error) string {
	switch {
	case errors.Is(err, registrydomain.ErrUnknownDevice):
		return ingestdomain.ReasonUnknownDevice
	case errors.Is(err, registrydomain.ErrDeviceInactive):
		return ingestdomain.ReasonDeviceInactive
	case errors.Is(err, registrydomain.ErrNoPlant):
		return ingestdomain.ReasonNoPlant
	case errors.Is(err, registrydomain.ErrPlantInactive):
		return ingestdomain.ReasonPlantInactive
	default:
		return ingestdomain.ReasonRegistryUnavailable
	}
}
