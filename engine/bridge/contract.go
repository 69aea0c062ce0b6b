// Package bridge is the runtime scaffolding every protocol adapter plugs
// into (spec §4.1): a builder wires up the pub/sub transport, liveness
// manager, and health reporter once, then runs each adapter task under a
// shared cancellation signal with panic isolation.
package bridge

import (
	"context"

	"github.com/99souls/zensight/engine/telemetry"
)

// PublisherHandle is the adapter-facing half of the Advanced Publisher
// (spec §4.1: "publisher_handle.publish(point)").
type PublisherHandle interface {
	Publish(ctx context.Context, point *telemetry.TelemetryPoint) error

	// Correlate announces that ip belongs to source, on this adapter's
	// protocol, via the `_meta/correlation/<ip>` namespace (spec §3/§4.9).
	// It bypasses the point grammar Publish enforces — correlation records
	// are an IP-keyed join aid, not a telemetry sample.
	Correlate(ctx context.Context, ip, source string) error
}

// HealthReporter is the adapter-facing success/failure sink that drives
// both the bridge's HealthSnapshot and the liveness state machine.
type HealthReporter interface {
	RecordSuccess(device string, latencyMs int64)
	RecordFailure(device string, err error)
}

// LivenessManager is the adapter-facing liveness token API (spec §4.3).
// Most adapters never call Mark directly — HealthReporter drives status
// transitions from RecordSuccess/RecordFailure — but traps and other
// event-driven sources that bypass the poll loop may call it directly.
type LivenessManager interface {
	Mark(device string, status telemetry.DeviceStatus)
}

// AdapterFunc is one protocol adapter's task body. It must loop until ctx
// is cancelled; a returned error is reported but does not stop the
// bridge's other adapters (spec §4.1).
type AdapterFunc func(ctx context.Context, pub PublisherHandle, health HealthReporter, liveness LivenessManager) error
