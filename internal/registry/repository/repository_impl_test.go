package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	registrydomain "github.com/smallbiznis/plantwatch/internal/registry/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestTouchDevice(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:registry_touch?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&registrydomain.Device{}))

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&registrydomain.Device{ID: 5, DeviceUID: "dev-5", IsActive: true, CreatedAt: created, UpdatedAt: created}).Error)

	repo := Provide()
	ctx := context.Background()
	seen := created.Add(time.Hour)
	require.NoError(t, repo.TouchDevice(ctx, db, 5, seen, "ingest-1"))

	device, err := repo.FindDeviceByUID(ctx, db, "dev-5")
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, "ingest-1", device.LastIngestID)
	require.NotNil(t, device.LastSeenAt)
	assert.True(t, seen.Equal(*device.LastSeenAt))

	missing, err := repo.FindDeviceByUID(ctx, db, "dev-9")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
