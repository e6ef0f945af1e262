package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type devicePolicy struct {
	allowed map[string]struct{}
}

// DevicePolicyHolder keeps the router device allowlist. An empty allowlist
// permits every device. When a policy file is configured it is watched and
// reloaded in place.
type DevicePolicyHolder struct {
	current atomic.Value // holds devicePolicy
	log     *zap.Logger
}

func NewDevicePolicyHolder(cfg Config, log *zap.Logger) (*DevicePolicyHolder, error) {
	holder := &DevicePolicyHolder{log: log.Named("config.devices")}
	holder.store(cfg.Router.AllowedDevices)

	file := cfg.Router.PolicyFile
	if file == "" {
		return holder, nil
	}

	v := viper.New()
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	devices, err := readAllowedDevices(v)
	if err != nil {
		return nil, err
	}
	holder.store(devices)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readAllowedDevices(v)
		if err != nil {
			holder.log.Warn("device policy reload ignored", zap.Error(err))
			return
		}
		holder.store(updated)
		holder.log.Info("device policy reloaded",
			zap.String("file", e.Name),
			zap.Int("allowed_devices", len(updated)),
		)
	})

	return holder, nil
}

func readAllowedDevices(v *viper.Viper) ([]string, error) {
	if !v.IsSet("allowed_devices") {
		return nil, errors.New("allowed_devices is missing")
	}
	return v.GetStringSlice("allowed_devices"), nil
}

func (h *DevicePolicyHolder) store(devices []string) {
	allowed := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		d = strings.TrimSpace(d)
		if d != "" {
			allowed[d] = struct{}{}
		}
	}
	h.current.Store(devicePolicy{allowed: allowed})
}

// Permits reports whether deviceUID may pass the router.
func (h *DevicePolicyHolder) Permits(deviceUID string) bool {
	policy := h.current.Load().(devicePolicy)
	if len(policy.allowed) == 0 {
		return true
	}
	_, ok := policy.allowed[deviceUID]
	return ok
}
