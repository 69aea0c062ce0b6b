package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/99souls/zensight/engine/logging"
	"github.com/99souls/zensight/engine/telemetry"
)

func point(source, metric string, v float64) *telemetry.TelemetryPoint {
	return &telemetry.TelemetryPoint{
		Timestamp: telemetry.NowMs(),
		Source:    source,
		Protocol:  telemetry.ProtocolSNMP,
		Metric:    metric,
		Value:     telemetry.GaugeValue(v),
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	conn := startTestServer(t)

	pub, err := NewPublisher(conn, PublisherConfig{Bridge: "router-1", Format: telemetry.FormatJSON}, nil)
	require.NoError(t, err)
	defer pub.Stop()

	sub, err := NewSubscriber(conn, SubscriberConfig{}, logging.New(nil))
	require.NoError(t, err)
	defer sub.Stop()

	time.Sleep(50 * time.Millisecond) // let subscriptions land before publish

	outcome, err := pub.Publish(context.Background(), point("router-1", "cpu/utilization", 42.5))
	require.NoError(t, err)
	require.Equal(t, PublishSuccess, outcome)

	select {
	case got := <-sub.Points():
		require.Equal(t, "router-1", got.Source)
		require.Equal(t, 42.5, got.Value.Gauge)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for point")
	}
}

func TestPublishRejectsMalformedPoint(t *testing.T) {
	conn := startTestServer(t)
	pub, err := NewPublisher(conn, PublisherConfig{Bridge: "router-1", Format: telemetry.FormatJSON}, nil)
	require.NoError(t, err)
	defer pub.Stop()

	bad := point("bad/source", "cpu", 1)
	outcome, err := pub.Publish(context.Background(), bad)
	require.Error(t, err)
	require.Equal(t, PublishDroppedFailed, outcome)
}

func TestRecoveryReplaysRingCacheOnGap(t *testing.T) {
	conn := startTestServer(t)

	pub, err := NewPublisher(conn, PublisherConfig{Bridge: "router-1", Format: telemetry.FormatJSON, RingCapacity: 10}, nil)
	require.NoError(t, err)
	defer pub.Stop()

	key, err := point("router-1", "cpu/utilization", 1).Key()
	require.NoError(t, err)

	// Publish three samples, then simulate a subscriber that only saw seq 1
	// and 3 (a gap at seq 2) by requesting recovery directly.
	for i := 0; i < 3; i++ {
		_, err := pub.Publish(context.Background(), point("router-1", "cpu/utilization", float64(i)))
		require.NoError(t, err)
	}

	payload, err := encodeRecoveryRequest(recoveryRequest{Key: key, From: 2, To: 2})
	require.NoError(t, err)

	resp, err := conn.Request(RecoverySubject(key), payload, 2*time.Second)
	require.NoError(t, err)

	reply, err := decodeRecoveryReply(resp.Data)
	require.NoError(t, err)
	require.Len(t, reply.Points, 1)
}

func TestSubscriberRequestsRecoveryOnHeartbeatGap(t *testing.T) {
	conn := startTestServer(t)

	pub, err := NewPublisher(conn, PublisherConfig{
		Bridge: "router-1", Format: telemetry.FormatJSON, RingCapacity: 10, HeartbeatEvery: 50 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	defer pub.Stop()

	sub, err := NewSubscriber(conn, SubscriberConfig{RecoveryTimeout: 500 * time.Millisecond}, logging.New(nil))
	require.NoError(t, err)
	defer sub.Stop()

	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 3; i++ {
		_, err := pub.Publish(context.Background(), point("router-1", "cpu/utilization", float64(i)))
		require.NoError(t, err)
	}

	// Drain the three live points so only recovery-delivered ones remain to
	// observe, then simulate a missed point by resetting lastSeq to 1.
	for i := 0; i < 3; i++ {
		<-sub.Points()
	}
	key, err := point("router-1", "cpu/utilization", 0).Key()
	require.NoError(t, err)
	sub.mu.Lock()
	sub.lastSeq[key] = 1
	sub.mu.Unlock()

	// Next heartbeat (seq=3) should trigger recovery for the gap at seq 2.
	select {
	case got := <-sub.Points():
		require.Equal(t, "router-1", got.Source)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for recovered point")
	}
}
