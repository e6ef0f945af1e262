package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	ledgerdomain "github.com/smallbiznis/plantwatch/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&ledgerdomain.Entry{}))
	return db
}

func newRepo(t *testing.T) ledgerdomain.Repository {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return Provide(Params{GenID: node})
}

func claimRequest(ingestID string) ledgerdomain.ClaimRequest {
	return ledgerdomain.ClaimRequest{
		IngestID:    ingestID,
		DeviceUID:   "dev-1",
		TimestampNs: 1700000000000000000,
		ContentHash: "hash",
		ReceivedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestClaimIsExclusive(t *testing.T) {
	db := setupLedgerDB(t)
	repo := newRepo(t)
	ctx := context.Background()

	first, err := repo.Claim(ctx, db, claimRequest("abc"))
	require.NoError(t, err)
	assert.True(t, first.Claimed)
	assert.NotZero(t, first.EntryID)

	second, err := repo.Claim(ctx, db, claimRequest("abc"))
	require.NoError(t, err)
	assert.False(t, second.Claimed)

	other, err := repo.Claim(ctx, db, claimRequest("def"))
	require.NoError(t, err)
	assert.True(t, other.Claimed)
}

func TestClaimRejectsEmptyIngestID(t *testing.T) {
	db := setupLedgerDB(t)
	repo := newRepo(t)

	_, err := repo.Claim(context.Background(), db, claimRequest("  "))
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidClaim)
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	db := setupLedgerDB(t)
	repo := newRepo(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := repo.Claim(ctx, db, claimRequest("same"))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if claim.Claimed {
				winners++
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, winners)
}

func TestFinalizeOKKeepsIDClaimed(t *testing.T) {
	db := setupLedgerDB(t)
	repo := newRepo(t)
	ctx := context.Background()

	claim, err := repo.Claim(ctx, db, claimRequest("abc"))
	require.NoError(t, err)

	plantID := snowflake.ID(42)
	require.NoError(t, repo.Finalize(ctx, db, ledgerdomain.FinalizeRequest{
		EntryID: claim.EntryID,
		Result:  ledgerdomain.ResultOK,
		PlantID: &plantID,
	}))

	again, err := repo.Claim(ctx, db, claimRequest("abc"))
	require.NoError(t, err)
	assert.False(t, again.Claimed)

	err = repo.Finalize(ctx, db, ledgerdomain.FinalizeRequest{
		EntryID: claim.EntryID,
		Result:  ledgerdomain.ResultError,
		Reason:  "late",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrAlreadyFinalized)

	rows, err := repo.FindByIngestID(ctx, db, "abc")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Result)
	assert.Equal(t, string(ledgerdomain.ResultOK), *rows[0].Result)
	require.NotNil(t, rows[0].PlantID)
	assert.Equal(t, plantID, *rows[0].PlantID)
	assert.NotNil(t, rows[0].FinalizedAt)
}

func TestFinalizeErrorReleasesID(t *testing.T) {
	db := setupLedgerDB(t)
	repo := newRepo(t)
	ctx := context.Background()

	claim, err := repo.Claim(ctx, db, claimRequest("abc"))
	require.NoError(t, err)
	require.NoError(t, repo.Finalize(ctx, db, ledgerdomain.FinalizeRequest{
		EntryID: claim.EntryID,
		Result:  ledgerdomain.ResultError,
		Reason:  "sink_write_failed",
	}))

	retry, err := repo.Claim(ctx, db, claimRequest("abc"))
	require.NoError(t, err)
	assert.True(t, retry.Claimed)
	assert.NotEqual(t, claim.EntryID, retry.EntryID)

	rows, err := repo.FindByIngestID(ctx, db, "abc")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var failed, live *ledgerdomain.Entry
	for i := range rows {
		if rows[i].ID == claim.EntryID {
			failed = &rows[i]
		} else {
			live = &rows[i]
		}
	}
	require.NotNil(t, failed)
	require.NotNil(t, live)
	assert.Nil(t, failed.LiveIngestID)
	require.NotNil(t, failed.Result)
	assert.Equal(t, string(ledgerdomain.ResultError), *failed.Result)
	assert.Equal(t, "sink_write_failed", failed.Reason)
	assert.True(t, live.Provisional())
}

func TestFinalizeRejectsUnknownResult(t *testing.T) {
	db := setupLedgerDB(t)
	repo := newRepo(t)

	err := repo.Finalize(context.Background(), db, ledgerdomain.FinalizeRequest{
		EntryID: 1,
		Result:  ledgerdomain.ResultDuplicate,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidResult)
}

func TestLockStaleReturnsOnlyOldProvisionalRows(t *testing.T) {
	db := setupLedgerDB(t)
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)

	old := claimRequest("old")
	old.ReceivedAt = base
	oldClaim, err := repo.Claim(ctx, db, old)
	require.NoError(t, err)

	done := claimRequest("done")
	done.ReceivedAt = base
	doneClaim, err := repo.Claim(ctx, db, done)
	require.NoError(t, err)
	require.NoError(t, repo.Finalize(ctx, db, ledgerdomain.FinalizeRequest{
		EntryID: doneClaim.EntryID,
		Result:  ledgerdomain.ResultOK,
	}))

	fresh := claimRequest("fresh")
	fresh.ReceivedAt = base.Add(time.Hour)
	_, err = repo.Claim(ctx, db, fresh)
	require.NoError(t, err)

	rows, err := repo.LockStale(ctx, db, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, oldClaim.EntryID, rows[0].ID)
	assert.Equal(t, "old", rows[0].IngestID)
}
