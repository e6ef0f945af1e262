package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/plantwatch/internal/ledger/domain"
	"github.com/smallbiznis/plantwatch/pkg/db"
	"github.com/smallbiznis/plantwatch/pkg/repository"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	GenID *snowflake.Node
}

type ledgerRepo struct {
	genID *snowflake.Node
}

func Provide(p Params) ledgerdomain.Repository {
	return &ledgerRepo{genID: p.GenID}
}

func (r *ledgerRepo) Claim(ctx context.Context, conn *gorm.DB, req ledgerdomain.ClaimRequest) (ledgerdomain.Claim, error) {
	ingestID := strings.TrimSpace(req.IngestID)
	if ingestID == "" {
		return ledgerdomain.Claim{}, ledgerdomain.ErrInvalidClaim
	}
	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	live := ingestID
	entry := &ledgerdomain.Entry{
		ID:           r.genID.Generate(),
		IngestID:     ingestID,
		LiveIngestID: &live,
		DeviceUID:    req.DeviceUID,
		ReceivedAt:   receivedAt,
		TimestampNs:  req.TimestampNs,
		ContentHash:  req.ContentHash,
	}

	result := conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "live_ingest_id"}},
			DoNothing: true,
		}).
		Create(entry)
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return ledgerdomain.Claim{}, nil
		}
		return ledgerdomain.Claim{}, result.Error
	}
	if result.RowsAffected == 0 {
		return ledgerdomain.Claim{}, nil
	}
	return ledgerdomain.Claim{EntryID: entry.ID, Claimed: true}, nil
}

func (r *ledgerRepo) Finalize(ctx context.Context, conn *gorm.DB, req ledgerdomain.FinalizeRequest) error {
	finalizedAt := req.FinalizedAt
	if finalizedAt.IsZero() {
		finalizedAt = time.Now().UTC()
	}

	var result *gorm.DB
	switch req.Result {
	case ledgerdomain.ResultOK:
		result = conn.WithContext(ctx).Exec(
			`UPDATE telemetry_ingest_ledger
			 SET result = ?,
			     reason = ?,
			     plant_id = ?,
			     finalized_at = ?
			 WHERE id = ? AND result IS NULL`,
			string(req.Result),
			req.Reason,
			req.PlantID,
			finalizedAt,
			req.EntryID,
		)
	case ledgerdomain.ResultError:
		result = conn.WithContext(ctx).Exec(
			`UPDATE telemetry_ingest_ledger
			 SET result = ?,
			     reason = ?,
			     plant_id = ?,
			     live_ingest_id = NULL,
			     finalized_at = ?
			 WHERE id = ? AND result IS NULL`,
			string(req.Result),
			req.Reason,
			req.PlantID,
			finalizedAt,
			req.EntryID,
		)
	default:
		return ledgerdomain.ErrInvalidResult
	}
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledgerdomain.ErrAlreadyFinalized
	}
	return nil
}

func (r *ledgerRepo) FindByIngestID(ctx context.Context, conn *gorm.DB, ingestID string) ([]ledgerdomain.Entry, error) {
	rows, err := repository.ProvideStore[ledgerdomain.Entry](conn).Find(ctx,
		&ledgerdomain.Entry{IngestID: ingestID},
		repository.OrderBy("received_at ASC, id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]ledgerdomain.Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

func (r *ledgerRepo) LockStale(ctx context.Context, conn *gorm.DB, olderThan time.Time, limit int) ([]ledgerdomain.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, ingest_id, device_uid, received_at
		 FROM telemetry_ingest_ledger
		 WHERE result IS NULL AND received_at < ?
		 ORDER BY received_at ASC
		 LIMIT ?`
	if db.SupportsRowLocks(conn) {
		query += " FOR UPDATE SKIP LOCKED"
	}
	var rows []ledgerdomain.Entry
	if err := conn.WithContext(ctx).Raw(query, olderThan, limit).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
