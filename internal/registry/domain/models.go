// Package domain holds the device and plant registry the supervisor resolves
// envelopes against.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/plantwatch/internal/threshold"
	"gorm.io/datatypes"
)

// PlantType is a named plant category owning a set of metric thresholds.
type PlantType struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"type:varchar(128);uniqueIndex;not null" json:"name"`
	Description string       `gorm:"type:text" json:"description"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

func (PlantType) TableName() string { return "plant_type" }

// MetricThreshold is keyed by (plant_type_id, metric).
type MetricThreshold struct {
	PlantTypeID snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"plant_type_id"`
	Metric      string       `gorm:"type:varchar(64);primaryKey" json:"metric"`
	WarnMin     *float64     `json:"warn_min,omitempty"`
	WarnMax     *float64     `json:"warn_max,omitempty"`
	CritMin     *float64     `json:"crit_min,omitempty"`
	CritMax     *float64     `json:"crit_max,omitempty"`
	Unit        string       `gorm:"type:varchar(32)" json:"unit"`
}

func (MetricThreshold) TableName() string { return "metric_threshold" }

func (t MetricThreshold) Bounds() threshold.Bounds {
	return threshold.Bounds{
		WarnMin: t.WarnMin,
		WarnMax: t.WarnMax,
		CritMin: t.CritMin,
		CritMax: t.CritMax,
	}
}

// BoundsByMetric indexes thresholds by metric name.
func BoundsByMetric(rows []MetricThreshold) map[string]threshold.Bounds {
	out := make(map[string]threshold.Bounds, len(rows))
	for _, row := range rows {
		out[row.Metric] = row.Bounds()
	}
	return out
}

type Plant struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	PlantTypeID snowflake.ID      `gorm:"not null;index" json:"plant_type_id"`
	DeviceID    *snowflake.ID     `gorm:"uniqueIndex" json:"device_id,omitempty"`
	Name        string            `gorm:"type:varchar(128);not null" json:"name"`
	IsActive    bool              `gorm:"not null" json:"is_active"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null" json:"updated_at"`
}

func (Plant) TableName() string { return "plant" }

type Device struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	DeviceUID       string       `gorm:"type:varchar(128);uniqueIndex;not null" json:"device_uid"`
	FirmwareVersion string       `gorm:"type:varchar(64)" json:"firmware_version"`
	LastSeenAt      *time.Time   `json:"last_seen_at,omitempty"`
	LastIngestID    string       `gorm:"type:varchar(64)" json:"last_ingest_id,omitempty"`
	IsActive        bool         `gorm:"not null" json:"is_active"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (Device) TableName() string { return "device" }
