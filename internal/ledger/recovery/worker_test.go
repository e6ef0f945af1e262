package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/plantwatch/internal/clock"
	ledgerdomain "github.com/smallbiznis/plantwatch/internal/ledger/domain"
	"github.com/smallbiznis/plantwatch/internal/ledger/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupLedger(t *testing.T) (*gorm.DB, ledgerdomain.Repository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&ledgerdomain.Entry{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return db, repository.Provide(repository.Params{GenID: node})
}

func TestRunOnceReleasesAbandonedClaims(t *testing.T) {
	db, repo := setupLedger(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	ctx := context.Background()

	stale, err := repo.Claim(ctx, db, ledgerdomain.ClaimRequest{
		IngestID:   "stale",
		DeviceUID:  "dev-1",
		ReceivedAt: now.Add(-10 * time.Minute),
	})
	require.NoError(t, err)
	_, err = repo.Claim(ctx, db, ledgerdomain.ClaimRequest{
		IngestID:   "recent",
		DeviceUID:  "dev-1",
		ReceivedAt: now.Add(-time.Minute),
	})
	require.NoError(t, err)

	worker := NewWorker(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Repo:   repo,
		Config: Config{StaleAfter: 5 * time.Minute},
		Clock:  clk,
	})

	recovered, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	rows, err := repo.FindByIngestID(ctx, db, "stale")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, stale.EntryID, rows[0].ID)
	require.NotNil(t, rows[0].Result)
	assert.Equal(t, string(ledgerdomain.ResultError), *rows[0].Result)
	assert.Equal(t, ledgerdomain.ReasonAbandoned, rows[0].Reason)

	retry, err := repo.Claim(ctx, db, ledgerdomain.ClaimRequest{IngestID: "stale", DeviceUID: "dev-1", ReceivedAt: now})
	require.NoError(t, err)
	assert.True(t, retry.Claimed)

	again, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestLifecycleStopHaltsLoop(t *testing.T) {
	db, repo := setupLedger(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	worker := NewWorker(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Repo:   repo,
		Config: Config{StaleAfter: time.Minute, PollInterval: 5 * time.Millisecond},
		Clock:  clock.NewFakeClock(now),
	})

	app := fxtest.New(t, fx.Supply(worker), fx.Invoke(runWorker))
	app.RequireStart()
	app.RequireStop()

	ctx := context.Background()
	_, err := repo.Claim(ctx, db, ledgerdomain.ClaimRequest{
		IngestID:   "late",
		DeviceUID:  "dev-1",
		ReceivedAt: now.Add(-time.Hour),
	})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	rows, err := repo.FindByIngestID(ctx, db, "late")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Provisional())
}
