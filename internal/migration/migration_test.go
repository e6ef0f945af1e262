package migration

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	ledgerdomain "github.com/smallbiznis/plantwatch/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	src, err := newSource()
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	versions := []uint{first}
	for v := first; ; {
		next, err := src.Next(v)
		if err != nil {
			break
		}
		versions = append(versions, next)
		v = next
	}
	assert.Equal(t, []uint{1, 2, 3}, versions)

	for _, v := range versions {
		up, _, err := src.ReadUp(v)
		require.NoError(t, err)
		require.NoError(t, up.Close())
		down, _, err := src.ReadDown(v)
		require.NoError(t, err)
		require.NoError(t, down.Close())
	}
}

func TestMigrateSQLite(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(conn))
	// idempotent
	require.NoError(t, Migrate(conn))

	for _, table := range []string{
		"plant_type", "metric_threshold", "device", "plant",
		"telemetry_ingest_ledger", "plant_current_state", "ticker_event",
	} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}

	live := "abc"
	now := time.Now().UTC()
	require.NoError(t, conn.Create(&ledgerdomain.Entry{
		ID: 1, IngestID: live, LiveIngestID: &live, DeviceUID: "dev-1", ReceivedAt: now, ContentHash: "h",
	}).Error)
	err = conn.Create(&ledgerdomain.Entry{
		ID: 2, IngestID: live, LiveIngestID: &live, DeviceUID: "dev-1", ReceivedAt: now, ContentHash: "h",
	}).Error
	assert.Error(t, err)

	require.NoError(t, conn.Create(&ledgerdomain.Entry{
		ID: 3, IngestID: live, DeviceUID: "dev-1", ReceivedAt: now, ContentHash: "h",
	}).Error)
	require.NoError(t, conn.Create(&ledgerdomain.Entry{
		ID: 4, IngestID: live, DeviceUID: "dev-1", ReceivedAt: now, ContentHash: "h",
	}).Error)
}

func TestMigrateRequiresConnection(t *testing.T) {
	assert.Error(t, Migrate(nil))
	assert.Error(t, RunMigrations(nil))
}
