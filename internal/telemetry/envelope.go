package telemetry

import (
	"errors"
	"math"
	"time"
)

var (
	ErrInvalidEnvelope = errors.New("invalid_envelope")
)

// Envelope is one decoded device reading.
type Envelope struct {
	DeviceUID   string             `json:"device_uid"`
	TimestampNs uint64             `json:"timestamp_ns"`
	Metrics     map[string]float64 `json:"metrics"`
	IngestID    string             `json:"ingest_id,omitempty"`
}

// Time interprets the device timestamp as nanoseconds since the Unix epoch.
func (e Envelope) Time() time.Time {
	return time.Unix(0, int64(e.TimestampNs)).UTC()
}

// MaxIngestIDLength bounds client-supplied ingest ids; computed ids are
// 64 hex characters.
const MaxIngestIDLength = 64

func (e Envelope) Validate() error {
	if e.DeviceUID == "" || len(e.Metrics) == 0 || len(e.IngestID) > MaxIngestIDLength {
		return ErrInvalidEnvelope
	}
	for _, v := range e.Metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrInvalidEnvelope
		}
	}
	return nil
}

// Batch is the forwarding unit between router and supervisor.
type Batch struct {
	ID        string     `json:"batch_id"`
	Seq       uint64     `json:"seq"`
	Envelopes []Envelope `json:"envelopes"`
}

type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusDuplicate Status = "duplicate"
	StatusRejected  Status = "rejected"
)

// Disposition is the per-envelope outcome of an ingest call.
type Disposition struct {
	IngestID string `json:"ingest_id"`
	Status   Status `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

func Accepted(ingestID string) Disposition {
	return Disposition{IngestID: ingestID, Status: StatusAccepted}
}

func Duplicate(ingestID string) Disposition {
	return Disposition{IngestID: ingestID, Status: StatusDuplicate}
}

func Rejected(ingestID, reason string) Disposition {
	return Disposition{IngestID: ingestID, Status: StatusRejected, Reason: reason}
}

// StatusChange describes an aggregate severity transition of a plant.
type StatusChange struct {
	Type         string `json:"type"`
	PlantID      string `json:"plant_id"`
	PrevSeverity string `json:"prev_severity"`
	NewSeverity  string `json:"new_severity"`
	OccurredAtNs int64  `json:"occurred_at_ns"`
}

const StatusChangeType = "PlantStatusChanged.v1"

// BatchResponse answers an ingest call. StatusChanges lists the aggregate
// transitions committed by this batch, in envelope order.
type BatchResponse struct {
	BatchID       string         `json:"batch_id"`
	Dispositions  []Disposition  `json:"dispositions"`
	StatusChanges []StatusChange `json:"status_changes"`
}
