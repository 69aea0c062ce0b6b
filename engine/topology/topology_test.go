package topology

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/99souls/zensight/engine/telemetry"
)

func netflowPoint(exporter, src, dst string, bytes uint64) *telemetry.TelemetryPoint {
	return &telemetry.TelemetryPoint{
		Timestamp: telemetry.NowMs(),
		Source:    exporter,
		Protocol:  telemetry.ProtocolNetflow,
		Metric:    src + "/" + dst,
		Value:     telemetry.CounterValue(bytes),
	}
}

func TestObserveNetflowPointCreatesWeightedEdge(t *testing.T) {
	g := New(Config{}, LayoutConfig{})
	now := time.Now()
	g.Observe(netflowPoint("exporter-1", "10.0.0.1", "10.0.0.2", 100), now)
	g.Observe(netflowPoint("exporter-1", "10.0.0.1", "10.0.0.2", 50), now)

	nodes, edges := g.Snapshot()
	require.Len(t, nodes, 2)
	require.Len(t, edges, 1)
	require.Equal(t, "10.0.0.1", edges[0].Src)
	require.Equal(t, "10.0.0.2", edges[0].Dst)
	require.Equal(t, 150.0, edges[0].Weight)
	require.Equal(t, 2, edges[0].RefCount)
}

func TestObservePeerIPLabelCreatesCandidateEdge(t *testing.T) {
	g := New(Config{}, LayoutConfig{})
	pt := &telemetry.TelemetryPoint{
		Source:   "router-1",
		Protocol: telemetry.ProtocolSNMP,
		Metric:   "interfaces/1/state",
		Value:    telemetry.GaugeValue(1),
		Labels:   map[string]string{"peer_ip": "192.168.1.5"},
	}
	g.Observe(pt, time.Now())

	nodes, edges := g.Snapshot()
	require.Len(t, nodes, 2)
	require.Len(t, edges, 1)
	require.Equal(t, "router-1", edges[0].Src)
	require.Equal(t, "192.168.1.5", edges[0].Dst)
}

func TestObserveIgnoresPointsWithNoEdgeSignal(t *testing.T) {
	g := New(Config{}, LayoutConfig{})
	pt := &telemetry.TelemetryPoint{
		Source:   "router-1",
		Protocol: telemetry.ProtocolSNMP,
		Metric:   "cpu/utilization",
		Value:    telemetry.GaugeValue(1),
	}
	g.Observe(pt, time.Now())

	nodes, edges := g.Snapshot()
	require.Empty(t, nodes)
	require.Empty(t, edges)
}

func TestPurgeExpiredRemovesStaleEdges(t *testing.T) {
	g := New(Config{EdgeTTL: 10 * time.Millisecond}, LayoutConfig{})
	base := time.Now()
	g.Observe(netflowPoint("e", "1.1.1.1", "2.2.2.2", 10), base)

	removed := g.PurgeExpired(base.Add(50 * time.Millisecond))
	require.Equal(t, 1, removed)

	_, edges := g.Snapshot()
	require.Empty(t, edges)
}

func TestPurgeExpiredKeepsFreshEdges(t *testing.T) {
	g := New(Config{EdgeTTL: time.Minute}, LayoutConfig{})
	base := time.Now()
	g.Observe(netflowPoint("e", "1.1.1.1", "2.2.2.2", 10), base)

	removed := g.PurgeExpired(base.Add(time.Second))
	require.Equal(t, 0, removed)

	_, edges := g.Snapshot()
	require.Len(t, edges, 1)
}

func TestSeededPositionIsDeterministic(t *testing.T) {
	a := seededPosition("router-1", 500, 500, 400)
	b := seededPosition("router-1", 500, 500, 400)
	require.Equal(t, a, b)

	c := seededPosition("router-2", 500, 500, 400)
	require.NotEqual(t, a, c)
}

func TestTickConvergesToIdle(t *testing.T) {
	g := New(Config{}, LayoutConfig{Dt: 1.0 / 30.0})
	now := time.Now()
	g.Observe(netflowPoint("e", "1.1.1.1", "2.2.2.2", 10), now)
	g.Observe(netflowPoint("e", "2.2.2.2", "3.3.3.3", 10), now)

	converged := false
	for i := 0; i < 100000; i++ {
		if !g.Tick() {
			converged = true
			break
		}
	}
	require.True(t, converged, "expected the simulator to converge within the tick budget")
	require.True(t, g.Idle())
}

func TestTickSkipsPinnedNodes(t *testing.T) {
	g := New(Config{}, LayoutConfig{Dt: 1.0 / 30.0})
	now := time.Now()
	g.Observe(netflowPoint("e", "1.1.1.1", "2.2.2.2", 10), now)
	g.SetPinned("1.1.1.1", true)

	nodesBefore, _ := g.Snapshot()
	var before NodeSnapshot
	for _, n := range nodesBefore {
		if n.ID == "1.1.1.1" {
			before = n
		}
	}

	for i := 0; i < 50; i++ {
		g.Tick()
	}

	nodesAfter, _ := g.Snapshot()
	var after NodeSnapshot
	for _, n := range nodesAfter {
		if n.ID == "1.1.1.1" {
			after = n
		}
	}
	require.Equal(t, before.X, after.X)
	require.Equal(t, before.Y, after.Y)
}

func TestObserveReactivatesAnIdleGraph(t *testing.T) {
	g := New(Config{}, LayoutConfig{Dt: 1.0 / 30.0})
	now := time.Now()
	g.Observe(netflowPoint("e", "1.1.1.1", "2.2.2.2", 10), now)
	for i := 0; i < 100000 && g.Tick(); i++ {
	}
	require.True(t, g.Idle())

	g.Observe(netflowPoint("e", "3.3.3.3", "4.4.4.4", 10), now)
	require.False(t, g.Idle())
}
