package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	registrydomain "github.com/smallbiznis/plantwatch/internal/registry/domain"
	"github.com/smallbiznis/plantwatch/pkg/repository"
	"gorm.io/gorm"
)

type registryRepo struct{}

func Provide() registrydomain.Repository {
	return &registryRepo{}
}

func (r *registryRepo) FindDeviceByUID(ctx context.Context, db *gorm.DB, deviceUID string) (*registrydomain.Device, error) {
	return repository.ProvideStore[registrydomain.Device](db).
		FindOne(ctx, &registrydomain.Device{DeviceUID: deviceUID})
}

func (r *registryRepo) FindPlantByDeviceID(ctx context.Context, db *gorm.DB, deviceID snowflake.ID) (*registrydomain.Plant, error) {
	return repository.ProvideStore[registrydomain.Plant](db).
		FindOne(ctx, nil, repository.Where("device_id = ?", deviceID))
}

func (r *registryRepo) FindPlantByID(ctx context.Context, db *gorm.DB, plantID snowflake.ID) (*registrydomain.Plant, error) {
	return repository.ProvideStore[registrydomain.Plant](db).
		FindOne(ctx, &registrydomain.Plant{ID: plantID})
}

func (r *registryRepo) ListThresholds(ctx context.Context, db *gorm.DB, plantTypeID snowflake.ID) ([]registrydomain.MetricThreshold, error) {
	rows, err := repository.ProvideStore[registrydomain.MetricThreshold](db).
		Find(ctx, nil,
			repository.Where("plant_type_id = ?", plantTypeID),
			repository.OrderBy("metric ASC"),
		)
	if err != nil {
		return nil, err
	}
	out := make([]registrydomain.MetricThreshold, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

func (r *registryRepo) TouchDevice(ctx context.Context, db *gorm.DB, deviceID snowflake.ID, seenAt time.Time, ingestID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE device
		 SET last_seen_at = ?,
		     last_ingest_id = ?,
		     updated_at = ?
		 WHERE id = ?`,
		seenAt,
		ingestID,
		seenAt,
		deviceID,
	).Error
}
