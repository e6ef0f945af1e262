package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/plantwatch/internal/threshold"
	"github.com/smallbiznis/plantwatch/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrInvalidPlant   = errors.New("invalid_plant")
	ErrStateNotFound  = errors.New("plant_state_not_found")
	ErrInvalidReading = errors.New("invalid_reading")
)

// ApplyRequest is one accepted reading of a plant.
type ApplyRequest struct {
	PlantID    snowflake.ID
	PlantName  string
	DeviceID   snowflake.ID
	IngestID   string
	Metrics    map[string]float64
	Bounds     map[string]threshold.Bounds
	ObservedAt time.Time
}

type ApplyResult struct {
	State        PlantCurrentState
	Evaluation   threshold.Result
	PrevSeverity threshold.Severity
	// Event is set only when the aggregate severity changed.
	Event *TickerEvent
}

func (r ApplyResult) Changed() bool { return r.Event != nil }

type ListTickerRequest struct {
	PlantID snowflake.ID
	pagination.Pagination
}

type ListTickerResponse struct {
	pagination.PageInfo
	Events []TickerEvent `json:"events"`
}

type Service interface {
	// Apply runs inside the caller's transaction. The caller serializes
	// calls per plant.
	Apply(ctx context.Context, tx *gorm.DB, req ApplyRequest) (ApplyResult, error)
	GetState(ctx context.Context, plantID snowflake.ID) (*PlantCurrentState, error)
	ListTicker(ctx context.Context, req ListTickerRequest) (ListTickerResponse, error)
}
