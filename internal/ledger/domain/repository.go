package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrAlreadyFinalized = errors.New("ledger_entry_already_finalized")
	ErrInvalidResult    = errors.New("invalid_ledger_result")
	ErrInvalidClaim     = errors.New("invalid_ledger_claim")
)

type ClaimRequest struct {
	IngestID    string
	DeviceUID   string
	TimestampNs int64
	ContentHash string
	ReceivedAt  time.Time
}

// Claim is the outcome of a claim attempt. Claimed is false when a live row
// already holds the ingest id.
type Claim struct {
	EntryID snowflake.ID
	Claimed bool
}

type FinalizeRequest struct {
	EntryID     snowflake.ID
	Result      Result
	Reason      string
	PlantID     *snowflake.ID
	FinalizedAt time.Time
}

type Repository interface {
	Claim(ctx context.Context, db *gorm.DB, req ClaimRequest) (Claim, error)
	Finalize(ctx context.Context, db *gorm.DB, req FinalizeRequest) error
	FindByIngestID(ctx context.Context, db *gorm.DB, ingestID string) ([]Entry, error)
	// LockStale returns provisional rows received before olderThan.
	LockStale(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]Entry, error)
}
