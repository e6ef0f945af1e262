package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/plantwatch/internal/clock"
	plantstatedomain "github.com/smallbiznis/plantwatch/internal/plantstate/domain"
	"github.com/smallbiznis/plantwatch/internal/threshold"
	"github.com/smallbiznis/plantwatch/pkg/db"
	"github.com/smallbiznis/plantwatch/pkg/db/pagination"
	"github.com/smallbiznis/plantwatch/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p ServiceParam) plantstatedomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plantstate.service"),
		genID: p.GenID,
		clock: clk,
	}
}

func (s *Service) Apply(ctx context.Context, tx *gorm.DB, req plantstatedomain.ApplyRequest) (plantstatedomain.ApplyResult, error) {
	if req.PlantID == 0 {
		return plantstatedomain.ApplyResult{}, plantstatedomain.ErrInvalidPlant
	}
	if len(req.Metrics) == 0 {
		return plantstatedomain.ApplyResult{}, plantstatedomain.ErrInvalidReading
	}

	prev, err := s.lockState(ctx, tx, req.PlantID)
	if err != nil {
		return plantstatedomain.ApplyResult{}, err
	}

	prevSeverity := threshold.SeverityNormal
	values := datatypes.JSONMap{}
	if prev != nil {
		prevSeverity = prev.AggregateSeverity()
		for name, value := range prev.MetricValues {
			values[name] = value
		}
	}

	eval := threshold.Evaluate(req.Bounds, req.Metrics)
	for name, value := range req.Metrics {
		values[name] = value
	}
	severities := datatypes.JSONMap{}
	for name, sev := range eval.PerMetric {
		severities[name] = sev.String()
	}

	now := s.clock.Now()
	state := plantstatedomain.PlantCurrentState{
		PlantID:        req.PlantID,
		MetricValues:   values,
		MetricSeverity: severities,
		Severity:       eval.Aggregate.String(),
		LastIngestID:   req.IngestID,
		UpdatedAt:      now,
	}
	if req.DeviceID != 0 {
		deviceID := req.DeviceID
		state.DeviceID = &deviceID
	}
	if !req.ObservedAt.IsZero() {
		observedAt := req.ObservedAt.UTC()
		state.LastReadingAt = &observedAt
	}

	err = tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "plant_id"}},
			UpdateAll: true,
		}).
		Create(&state).Error
	if err != nil {
		return plantstatedomain.ApplyResult{}, fmt.Errorf("upsert plant state: %w", err)
	}

	result := plantstatedomain.ApplyResult{
		State:        state,
		Evaluation:   eval,
		PrevSeverity: prevSeverity,
	}
	if eval.Aggregate == prevSeverity {
		return result, nil
	}

	event := s.buildTickerEvent(req, state, eval, prevSeverity, now)
	if err := tx.WithContext(ctx).Create(&event).Error; err != nil {
		return plantstatedomain.ApplyResult{}, fmt.Errorf("append ticker event: %w", err)
	}
	result.Event = &event
	return result, nil
}

func (s *Service) GetState(ctx context.Context, plantID snowflake.ID) (*plantstatedomain.PlantCurrentState, error) {
	if plantID == 0 {
		return nil, plantstatedomain.ErrInvalidPlant
	}
	state, err := repository.ProvideStore[plantstatedomain.PlantCurrentState](s.db).
		FindOne(ctx, &plantstatedomain.PlantCurrentState{PlantID: plantID})
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, plantstatedomain.ErrStateNotFound
	}
	return state, nil
}

// ListTicker returns the newest events first.
func (s *Service) ListTicker(ctx context.Context, req plantstatedomain.ListTickerRequest) (plantstatedomain.ListTickerResponse, error) {
	if req.PlantID == 0 {
		return plantstatedomain.ListTickerResponse{}, plantstatedomain.ErrInvalidPlant
	}
	limit := req.Size()

	opts := []repository.QueryOption{
		repository.Where("plant_id = ?", req.PlantID),
		repository.OrderBy("occurred_at DESC, id DESC"),
		repository.Limit(limit + 1),
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return plantstatedomain.ListTickerResponse{}, err
		}
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return plantstatedomain.ListTickerResponse{}, pagination.ErrInvalidPageToken
		}
		opts = append(opts, repository.Where(
			"(occurred_at < ? OR (occurred_at = ? AND id < ?))",
			cursor.At, cursor.At, cursorID,
		))
	}

	items, err := repository.ProvideStore[plantstatedomain.TickerEvent](s.db).Find(ctx, nil, opts...)
	if err != nil {
		return plantstatedomain.ListTickerResponse{}, err
	}

	page, info := pagination.BuildCursorPageInfo(items, limit, func(e *plantstatedomain.TickerEvent) pagination.Cursor {
		return pagination.Cursor{ID: e.ID.String(), At: e.OccurredAt}
	})

	events := make([]plantstatedomain.TickerEvent, 0, len(page))
	for _, item := range page {
		if item == nil {
			continue
		}
		events = append(events, *item)
	}
	return plantstatedomain.ListTickerResponse{PageInfo: info, Events: events}, nil
}

func (s *Service) lockState(ctx context.Context, tx *gorm.DB, plantID snowflake.ID) (*plantstatedomain.PlantCurrentState, error) {
	query := tx.WithContext(ctx)
	if db.SupportsRowLocks(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var state plantstatedomain.PlantCurrentState
	err := query.Where("plant_id = ?", plantID).Take(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

func (s *Service) buildTickerEvent(
	req plantstatedomain.ApplyRequest,
	state plantstatedomain.PlantCurrentState,
	eval threshold.Result,
	prevSeverity threshold.Severity,
	now time.Time,
) plantstatedomain.TickerEvent {
	name := req.PlantName
	if name == "" {
		name = req.PlantID.String()
	}
	message := fmt.Sprintf("Plant %s severity %s -> %s", name, prevSeverity, eval.Aggregate)
	if eval.Aggregate != threshold.SeverityNormal && eval.Trigger != "" {
		message = fmt.Sprintf("%s (%s=%g)", message, eval.Trigger, eval.TriggerValue)
	}

	payload := datatypes.JSONMap{
		"ingest_id":       req.IngestID,
		"metric_severity": map[string]any(state.MetricSeverity),
	}
	if eval.Trigger != "" {
		payload["trigger_metric"] = eval.Trigger
		payload["trigger_value"] = eval.TriggerValue
	}
	if !req.ObservedAt.IsZero() {
		payload["observed_at_ns"] = req.ObservedAt.UnixNano()
	}

	return plantstatedomain.TickerEvent{
		ID:           s.genID.Generate(),
		PlantID:      req.PlantID,
		DeviceID:     state.DeviceID,
		Kind:         plantstatedomain.KindSeverityChange,
		Severity:     eval.Aggregate.String(),
		PrevSeverity: prevSeverity.String(),
		Message:      message,
		Payload:      payload,
		OccurredAt:   now,
	}
}
