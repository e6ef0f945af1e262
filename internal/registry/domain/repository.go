package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrUnknownDevice  = errors.New("unknown_device")
	ErrDeviceInactive = errors.New("device_inactive")
	ErrNoPlant        = errors.New("no_plant")
	ErrPlantInactive  = errors.New("plant_inactive")
	ErrPlantNotFound  = errors.New("plant_not_found")
)

// Repository reads the registry. Every method runs on the handle it is
// given so callers can join an open transaction.
type Repository interface {
	FindDeviceByUID(ctx context.Context, db *gorm.DB, deviceUID string) (*Device, error)
	FindPlantByDeviceID(ctx context.Context, db *gorm.DB, deviceID snowflake.ID) (*Plant, error)
	FindPlantByID(ctx context.Context, db *gorm.DB, plantID snowflake.ID) (*Plant, error)
	ListThresholds(ctx context.Context, db *gorm.DB, plantTypeID snowflake.ID) ([]MetricThreshold, error)
	TouchDevice(ctx context.Context, db *gorm.DB, deviceID snowflake.ID, seenAt time.Time, ingestID string) error
}

// Resolution is the registry context of one envelope.
type Resolution struct {
	Device     Device
	Plant      Plant
	Thresholds []MetricThreshold
}

// Resolver maps a device to its plant and thresholds, checking the active
// flags on the way.
type Resolver interface {
	Resolve(ctx context.Context, deviceUID string) (*Resolution, error)
	Invalidate(deviceUID string)
}
