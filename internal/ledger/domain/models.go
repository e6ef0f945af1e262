// Package domain defines the ingest dedup ledger.
//
// Every delivery attempt of an envelope is one row. A row is provisional
// while result is NULL. live_ingest_id carries the ingest id only while the
// row is provisional or OK, which makes the unique index on it the dedup
// gate: an ERROR row releases the id and a later resend claims a new row.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Result string

const (
	ResultOK        Result = "OK"
	ResultDuplicate Result = "DUPLICATE"
	ResultError     Result = "ERROR"
)

const ReasonAbandoned = "abandoned"

type Entry struct {
	ID           snowflake.ID  `gorm:"primaryKey" json:"id"`
	IngestID     string        `gorm:"type:varchar(64);not null;index" json:"ingest_id"`
	LiveIngestID *string       `gorm:"type:varchar(64);uniqueIndex" json:"live_ingest_id,omitempty"`
	DeviceUID    string        `gorm:"type:varchar(128);not null" json:"device_uid"`
	PlantID      *snowflake.ID `json:"plant_id,omitempty"`
	ReceivedAt   time.Time     `gorm:"not null;index" json:"received_at"`
	TimestampNs  int64         `gorm:"not null" json:"timestamp_ns"`
	ContentHash  string        `gorm:"type:varchar(64);not null" json:"content_hash"`
	Result       *string       `gorm:"type:varchar(16)" json:"result,omitempty"`
	Reason       string        `gorm:"type:varchar(64)" json:"reason,omitempty"`
	FinalizedAt  *time.Time    `json:"finalized_at,omitempty"`
}

func (Entry) TableName() string { return "telemetry_ingest_ledger" }

// Provisional reports whether the row still awaits its outcome.
func (e Entry) Provisional() bool { return e.Result == nil }
