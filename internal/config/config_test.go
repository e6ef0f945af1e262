package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ROUTER_BATCH_SIZE", "")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", cfg.Router.UDPAddr)
	assert.Equal(t, 64, cfg.Router.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Router.MaxWait)
	assert.Equal(t, ":8080", cfg.Supervisor.BindAddr)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("ROUTER_BATCH_SIZE", "3")
	t.Setenv("ROUTER_ALLOWED_DEVICES", "dev-1, dev-2,,")
	t.Setenv("BUS_URL", "nats://localhost:4222")
	t.Setenv("INFLUXDB_URL", "http://influx:8086")
	t.Setenv("INFLUXDB_TOKEN", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Router.BatchSize)
	assert.Equal(t, []string{"dev-1", "dev-2"}, cfg.Router.AllowedDevices)
	assert.Equal(t, "nats://localhost:4222", cfg.BusURL)
	assert.True(t, cfg.Influx.Enabled())
	assert.False(t, cfg.Dynamo.Enabled())
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plantwatch.yaml")
	require.NoError(t, os.WriteFile(file, []byte("router_udp_addr: 127.0.0.1:9000\nbus_url: amqp://guest@rabbit/\n"), 0o600))
	t.Setenv("CONFIG_FILE", file)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Router.UDPAddr)
	assert.Equal(t, "amqp://guest@rabbit/", cfg.BusURL)
}

func TestDevicePolicyHolder(t *testing.T) {
	open, err := NewDevicePolicyHolder(Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, open.Permits("anything"))

	dir := t.TempDir()
	file := filepath.Join(dir, "devices.yaml")
	require.NoError(t, os.WriteFile(file, []byte("allowed_devices:\n  - dev-1\n"), 0o600))

	holder, err := NewDevicePolicyHolder(Config{Router: RouterConfig{PolicyFile: file}}, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, holder.Permits("dev-1"))
	assert.False(t, holder.Permits("dev-2"))
}
