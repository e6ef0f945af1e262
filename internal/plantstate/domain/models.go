// Package domain holds the per-plant current state and the ticker log of
// severity transitions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/plantwatch/internal/threshold"
	"gorm.io/datatypes"
)

// KindSeverityChange marks a change of the plant's aggregate severity. It is
// the only kind the state store emits: a per-metric flip that leaves the
// aggregate where it was is recorded on the state row, not in the ticker.
const KindSeverityChange = "severity_change"

// PlantCurrentState is the single live row of a plant.
type PlantCurrentState struct {
	PlantID        snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"plant_id"`
	DeviceID       *snowflake.ID     `json:"device_id,omitempty"`
	MetricValues   datatypes.JSONMap `json:"metric_values"`
	MetricSeverity datatypes.JSONMap `json:"metric_severity"`
	Severity       string            `gorm:"type:varchar(16);not null" json:"severity"`
	LastIngestID   string            `gorm:"type:varchar(64)" json:"last_ingest_id"`
	LastReadingAt  *time.Time        `json:"last_reading_at,omitempty"`
	UpdatedAt      time.Time         `gorm:"not null" json:"updated_at"`
}

func (PlantCurrentState) TableName() string { return "plant_current_state" }

func (s PlantCurrentState) AggregateSeverity() threshold.Severity {
	return threshold.Parse(s.Severity)
}

// TickerEvent is append-only.
type TickerEvent struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	PlantID      snowflake.ID      `gorm:"not null;index:idx_ticker_event_plant_occurred,priority:1" json:"plant_id"`
	DeviceID     *snowflake.ID     `json:"device_id,omitempty"`
	Kind         string            `gorm:"type:varchar(32);not null" json:"kind"`
	Severity     string            `gorm:"type:varchar(16);not null" json:"severity"`
	PrevSeverity string            `gorm:"type:varchar(16);not null" json:"prev_severity"`
	Message      string            `gorm:"type:text;not null" json:"message"`
	Payload      datatypes.JSONMap `json:"payload,omitempty"`
	OccurredAt   time.Time         `gorm:"not null;index:idx_ticker_event_plant_occurred,priority:2" json:"occurred_at"`
}

func (TickerEvent) TableName() string { return "ticker_event" }
