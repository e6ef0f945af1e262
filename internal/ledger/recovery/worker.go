package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/plantwatch/internal/clock"
	ledgerdomain "github.com/smallbiznis/plantwatch/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/plantwatch/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    ledgerdomain.Repository
	Config  Config                      `optional:"true"`
	Clock   clock.Clock                 `optional:"true"`
	Metrics *obsmetrics.PipelineMetrics `optional:"true"`
}

// Worker finalizes claims whose owner never came back, so that their ingest
// ids can be claimed again by a resend.
type Worker struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    ledgerdomain.Repository
	cfg     Config
	clock   clock.Clock
	metrics *obsmetrics.PipelineMetrics
}

func NewWorker(p Params) *Worker {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Worker{
		db:      p.DB,
		log:     p.Log.Named("ledger.recovery"),
		repo:    p.Repo,
		cfg:     p.Config.withDefaults(),
		clock:   clk,
		metrics: p.Metrics,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Warn("ledger recovery run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce recovers at most one batch and returns how many rows it finalized.
func (w *Worker) RunOnce(parentCtx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.RunTimeout)
	defer cancel()

	now := w.clock.Now()
	cutoff := now.Add(-w.cfg.StaleAfter)
	recovered := 0

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := w.repo.LockStale(ctx, tx, cutoff, w.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, row := range rows {
			err := w.repo.Finalize(ctx, tx, ledgerdomain.FinalizeRequest{
				EntryID:     row.ID,
				Result:      ledgerdomain.ResultError,
				Reason:      ledgerdomain.ReasonAbandoned,
				FinalizedAt: now,
			})
			if errors.Is(err, ledgerdomain.ErrAlreadyFinalized) {
				continue
			}
			if err != nil {
				return err
			}
			recovered++
			w.log.Info("abandoned ledger claim released",
				zap.String("entry_id", row.ID.String()),
				zap.String("ingest_id", row.IngestID),
				zap.String("device_uid", row.DeviceUID),
				zap.Time("received_at", row.ReceivedAt),
			)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	w.metrics.RecordLedgerRecovered(recovered)
	return recovered, nil
}
