package subscriber

import (
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/99souls/zensight/engine/bus"
)

func startTestServer(t *testing.T) *nats.Conn {
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

func TestMessageForMapsBridgeLevelTransitions(t *testing.T) {
	require.Equal(t, Message{Kind: BridgeOnline, Bridge: "router-1"},
		messageFor(bus.LivenessEvent{Bridge: "router-1", Present: true}))
	require.Equal(t, Message{Kind: BridgeOffline, Bridge: "router-1"},
		messageFor(bus.LivenessEvent{Bridge: "router-1", Present: false}))
}

func TestMessageForMapsDeviceLevelTransitions(t *testing.T) {
	require.Equal(t, Message{Kind: DeviceOnline, Bridge: "router-1", Device: "eth0"},
		messageFor(bus.LivenessEvent{Bridge: "router-1", Device: "eth0", Present: true}))
	require.Equal(t, Message{Kind: DeviceOffline, Bridge: "router-1", Device: "eth0"},
		messageFor(bus.LivenessEvent{Bridge: "router-1", Device: "eth0", Present: false}))
}

func TestSubscriberTranslatesPresenceIntoBridgeOnlineMessage(t *testing.T) {
	conn := startTestServer(t)

	lp := bus.NewLivenessPublisher(conn, "router-1", 50*time.Millisecond)
	defer lp.Stop()

	sub, err := New(conn, bus.SubscriberConfig{}, nil)
	require.NoError(t, err)
	defer sub.Stop()

	select {
	case msg := <-sub.Messages():
		require.Equal(t, BridgeOnline, msg.Kind)
		require.Equal(t, "router-1", msg.Bridge)
		require.Empty(t, msg.Device)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for BridgeOnline message")
	}
}

func TestSubscriberTranslatesDeviceRevocationIntoDeviceOffline(t *testing.T) {
	conn := startTestServer(t)

	lp := bus.NewLivenessPublisher(conn, "router-1", 50*time.Millisecond)
	defer lp.Stop()
	lp.Declare("eth0")

	sub, err := New(conn, bus.SubscriberConfig{}, nil)
	require.NoError(t, err)
	defer sub.Stop()

	// drain the bridge-level and device-level Online messages first.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-sub.Messages():
			if msg.Kind == DeviceOnline && msg.Device == "eth0" {
				goto revoke
			}
		case <-deadline:
			t.Fatal("timed out waiting for DeviceOnline message")
		}
	}

revoke:
	lp.Revoke("eth0")

	for {
		select {
		case msg := <-sub.Messages():
			if msg.Kind == DeviceOffline && msg.Device == "eth0" {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for DeviceOffline message")
		}
	}
}

func TestSubscriberExposesInnerPointsAndDecodeErrorChannels(t *testing.T) {
	conn := startTestServer(t)

	pub, err := bus.NewPublisher(conn, bus.PublisherConfig{Bridge: "router-1", Format: "json"}, nil)
	require.NoError(t, err)
	defer pub.Stop()

	sub, err := New(conn, bus.SubscriberConfig{}, nil)
	require.NoError(t, err)
	defer sub.Stop()

	require.NotNil(t, sub.Points())
	require.NotNil(t, sub.DecodeErrors())
}
