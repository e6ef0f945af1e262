package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/plantwatch/internal/cache"
	"github.com/smallbiznis/plantwatch/internal/clock"
	registrydomain "github.com/smallbiznis/plantwatch/internal/registry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	defaultResolutionTTL = 10 * time.Second
	maxCachedDevices     = 10000
)

type ResolverParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  registrydomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Resolver struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  registrydomain.Repository
	cache cache.Cache[string, registrydomain.Resolution]
	group singleflight.Group
	ttl   time.Duration
}

func NewResolver(p ResolverParams) registrydomain.Resolver {
	return &Resolver{
		db:    p.DB,
		log:   p.Log.Named("registry.resolver"),
		repo:  p.Repo,
		cache: cache.NewTTLCache[string, registrydomain.Resolution](p.Clock, maxCachedDevices),
		ttl:   defaultResolutionTTL,
	}
}

// Resolve only caches fully active resolutions, so a device or plant that is
// switched back on takes effect on the next reading.
func (r *Resolver) Resolve(ctx context.Context, deviceUID string) (*registrydomain.Resolution, error) {
	uid := strings.TrimSpace(deviceUID)
	if uid == "" {
		return nil, registrydomain.ErrUnknownDevice
	}
	if cached, ok := r.cache.Get(uid); ok {
		return &cached, nil
	}

	v, err, _ := r.group.Do(uid, func() (any, error) {
		res, err := r.load(ctx, uid)
		if err != nil {
			return nil, err
		}
		r.cache.Set(uid, *res, r.ttl)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*registrydomain.Resolution)
	return &res, nil
}

func (r *Resolver) Invalidate(deviceUID string) {
	r.cache.Delete(strings.TrimSpace(deviceUID))
}

func (r *Resolver) load(ctx context.Context, uid string) (*registrydomain.Resolution, error) {
	device, err := r.repo.FindDeviceByUID(ctx, r.db, uid)
	if err != nil {
		return nil, fmt.Errorf("find device: %w", err)
	}
	if device == nil {
		return nil, registrydomain.ErrUnknownDevice
	}
	if !device.IsActive {
		return nil, registrydomain.ErrDeviceInactive
	}

	plant, err := r.repo.FindPlantByDeviceID(ctx, r.db, device.ID)
	if err != nil {
		return nil, fmt.Errorf("find plant: %w", err)
	}
	if plant == nil {
		return nil, registrydomain.ErrNoPlant
	}
	if !plant.IsActive {
		return nil, registrydomain.ErrPlantInactive
	}

	thresholds, err := r.repo.ListThresholds(ctx, r.db, plant.PlantTypeID)
	if err != nil {
		return nil, fmt.Errorf("list thresholds: %w", err)
	}

	return &registrydomain.Resolution{
		Device:     *device,
		Plant:      *plant,
		Thresholds: thresholds,
	}, nil
}
