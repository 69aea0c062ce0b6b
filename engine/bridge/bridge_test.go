package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/events"
	"github.com/99souls/zensight/engine/logging"
	"github.com/99souls/zensight/engine/telemetry"
)

func startTestConn(t *testing.T) *nats.Conn {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	go srv.Start()
	require.True(t, srv.ReadyForConnections(2*time.Second))
	t.Cleanup(srv.Shutdown)

	conn, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func TestHealthReporterDeviceStatusStateMachine(t *testing.T) {
	conn := startTestConn(t)
	lm := newLivenessManager(conn, "snmp-bridge", telemetry.ProtocolSNMP, telemetry.FormatJSON, time.Hour)
	defer lm.Stop()

	hr := newHealthReporter(config.LivenessConfig{DegradedThreshold: 1, OfflineThreshold: 3}, lm)

	hr.RecordFailure("router-1", errors.New("timeout"))
	require.Equal(t, telemetry.DeviceDegraded, lm.Status("router-1"))

	hr.RecordFailure("router-1", errors.New("timeout"))
	require.Equal(t, telemetry.DeviceDegraded, lm.Status("router-1"))

	hr.RecordFailure("router-1", errors.New("timeout"))
	require.Equal(t, telemetry.DeviceOffline, lm.Status("router-1"))

	hr.RecordSuccess("router-1", 5)
	require.Equal(t, telemetry.DeviceOnline, lm.Status("router-1"))
}

func TestHealthReporterDegradesOnLatency(t *testing.T) {
	conn := startTestConn(t)
	lm := newLivenessManager(conn, "snmp-bridge", telemetry.ProtocolSNMP, telemetry.FormatJSON, time.Hour)
	defer lm.Stop()

	hr := newHealthReporter(config.LivenessConfig{DegradedThreshold: 1, OfflineThreshold: 3, DegradedLatencyMs: 100}, lm)
	hr.RecordSuccess("router-1", 500)
	require.Equal(t, telemetry.DeviceDegraded, lm.Status("router-1"))
}

func TestLivenessNeverDoubleDeclares(t *testing.T) {
	conn := startTestConn(t)

	events := make(chan string, 8)
	_, err := conn.Subscribe("zensight._presence.snmp-bridge.router-1", func(m *nats.Msg) {
		events <- string(m.Data)
	})
	require.NoError(t, err)

	lm := newLivenessManager(conn, "snmp-bridge", telemetry.ProtocolSNMP, telemetry.FormatJSON, time.Hour)
	defer lm.Stop()
	hr := newHealthReporter(config.LivenessConfig{DegradedThreshold: 1, OfflineThreshold: 3}, lm)

	hr.RecordSuccess("router-1", 5) // Unknown -> Online: declares
	hr.RecordSuccess("router-1", 5) // Online -> Online: no-op, no redeclare

	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("expected one declare")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected second declare: %s", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRunnerRecoversAdapterPanic(t *testing.T) {
	conn := startTestConn(t)

	errs := make(chan string, 4)
	_, err := conn.Subscribe("zensight.snmp.@.errors", func(m *nats.Msg) {
		errs <- string(m.Data)
	})
	require.NoError(t, err)

	r, err := NewRunner(conn, Config{
		Bridge:      "snmp-bridge",
		Protocol:    telemetry.ProtocolSNMP,
		Format:      telemetry.FormatJSON,
		HealthEvery: time.Hour,
	}, logging.New(nil))
	require.NoError(t, err)
	defer r.Stop()

	r.AddAdapter("panicker", func(ctx context.Context, pub PublisherHandle, health HealthReporter, liveness LivenessManager) error {
		panic("device exploded")
	})

	r.Start(context.Background())

	select {
	case msg := <-errs:
		require.Contains(t, msg, "panicked")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for panic error report")
	}
}

func TestRunnerPublishesHealthSnapshot(t *testing.T) {
	conn := startTestConn(t)

	health := make(chan []byte, 4)
	_, err := conn.Subscribe("zensight.snmp.@.health", func(m *nats.Msg) {
		health <- m.Data
	})
	require.NoError(t, err)

	r, err := NewRunner(conn, Config{
		Bridge:      "snmp-bridge",
		Protocol:    telemetry.ProtocolSNMP,
		Format:      telemetry.FormatJSON,
		HealthEvery: 30 * time.Millisecond,
	}, logging.New(nil))
	require.NoError(t, err)
	defer r.Stop()

	r.Start(context.Background())

	select {
	case data := <-health:
		snap, err := telemetry.DecodeHealth(data)
		require.NoError(t, err)
		require.Equal(t, "snmp-bridge", snap.Bridge)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for health snapshot")
	}
}

func TestRunnerEventsCarryPanicReports(t *testing.T) {
	conn := startTestConn(t)

	r, err := NewRunner(conn, Config{
		Bridge:      "snmp-bridge",
		Protocol:    telemetry.ProtocolSNMP,
		Format:      telemetry.FormatJSON,
		HealthEvery: time.Hour,
	}, logging.New(nil))
	require.NoError(t, err)
	defer r.Stop()

	sub, err := r.Events().Subscribe(8)
	require.NoError(t, err)
	defer sub.Close()

	r.AddAdapter("panicker", func(ctx context.Context, pub PublisherHandle, health HealthReporter, liveness LivenessManager) error {
		panic("device exploded")
	})
	r.Start(context.Background())

	select {
	case ev := <-sub.C():
		require.Equal(t, events.CategoryError, ev.Category)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error event")
	}
}

func TestRunnerUpdateLivenessAppliesNewThresholds(t *testing.T) {
	conn := startTestConn(t)

	r, err := NewRunner(conn, Config{
		Bridge:      "snmp-bridge",
		Protocol:    telemetry.ProtocolSNMP,
		Format:      telemetry.FormatJSON,
		HealthEvery: time.Hour,
		Liveness:    config.LivenessConfig{DegradedThreshold: 5, OfflineThreshold: 10},
	}, logging.New(nil))
	require.NoError(t, err)
	defer r.Stop()

	r.health.RecordFailure("router-1", errors.New("timeout"))
	require.Equal(t, telemetry.DeviceUnknown, r.health.Liveness("router-1").Status)

	r.UpdateLiveness(config.LivenessConfig{DegradedThreshold: 1, OfflineThreshold: 3})
	r.health.RecordFailure("router-1", errors.New("timeout"))
	require.Equal(t, telemetry.DeviceDegraded, r.health.Liveness("router-1").Status)
}
