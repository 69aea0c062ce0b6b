package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSNMPConfig = `{
  "zenoh": {"mode": "client", "connect": ["tcp/127.0.0.1:7447"]},
  "serialization": "cbor",
  "logging": {"level": "info"},
  "snmp": {
    "devices": [
      {"name": "router-1", "address": "10.0.0.1", "version": "v2c", "community": "public", "poll_interval_secs": 30, "oids": ["1.3.6.1.2.1.1.3.0"]}
    ],
    "trap_listener": {"enabled": false}
  }
}`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidSNMPConfig(t *testing.T) {
	path := writeTempConfig(t, validSNMPConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeClient, cfg.Zenoh.Mode)
	assert.Equal(t, "cbor", cfg.Serialization)
	require.NotNil(t, cfg.SNMP)
	assert.Len(t, cfg.SNMP.Devices, 1)
	assert.Equal(t, "router-1", cfg.SNMP.Devices[0].Name)
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	path := writeTempConfig(t, `{"zenoh": {"mode": "bogus"}, "logging": {"level": "info"}}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsSNMPv3WithoutSecurity(t *testing.T) {
	path := writeTempConfig(t, `{
		"zenoh": {"mode": "peer"},
		"logging": {"level": "info"},
		"snmp": {"devices": [{"name": "d", "address": "1.2.3.4", "version": "v3", "poll_interval_secs": 10}]}
	}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyDefaultsFillsPrometheusAggregation(t *testing.T) {
	path := writeTempConfig(t, `{
		"zenoh": {"mode": "client"},
		"logging": {"level": "info"},
		"prometheus": {"listen": ":9100"}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/metrics", cfg.Prometheus.Path)
	assert.Equal(t, 300, cfg.Prometheus.Aggregation.StaleTimeoutSecs)
	assert.Equal(t, 100000, cfg.Prometheus.Aggregation.MaxSeries)
}

func TestHotReloaderEmitsChangeOnWrite(t *testing.T) {
	path := writeTempConfig(t, validSNMPConfig)
	r, err := NewHotReloader(path)
	require.NoError(t, err)
	defer r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, errs := r.Watch(ctx)

	updated := `{
  "zenoh": {"mode": "client"},
  "logging": {"level": "debug"},
  "snmp": {"devices": [{"name": "router-1", "address": "10.0.0.1", "version": "v2c", "community": "public", "poll_interval_secs": 15}], "trap_listener": {"enabled": false}}
}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	select {
	case c := <-changes:
		require.NotNil(t, c)
		assert.Equal(t, "debug", c.Config.Logging.Level)
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("no change observed within timeout")
	}
}
