// Package domain defines the supervisor's batch ingestion contract.
package domain

import (
	"context"

	"github.com/smallbiznis/plantwatch/internal/telemetry"
)

// Rejection reasons reported on a rejected disposition.
const (
	ReasonInvalidEnvelope     = "invalid_envelope"
	ReasonLedgerUnavailable   = "ledger_unavailable"
	ReasonUnknownDevice       = "unknown_device"
	ReasonDeviceInactive      = "device_inactive"
	ReasonNoPlant             = "no_plant"
	ReasonPlantInactive       = "plant_inactive"
	ReasonRegistryUnavailable = "registry_unavailable"
	ReasonSinkWriteFailed     = "sink_write_failed"
	ReasonStateUpdateFailed   = "state_update_failed"
)

type Service interface {
	// IngestBatch returns one disposition per envelope, in input order, and
	// the status changes the batch committed. A failing envelope never aborts
	// the rest of the batch.
	IngestBatch(ctx context.Context, batch telemetry.Batch) (telemetry.BatchResponse, error)
}
