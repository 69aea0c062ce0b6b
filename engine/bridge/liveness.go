package bridge

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/99souls/zensight/engine/bus"
	"github.com/99souls/zensight/engine/telemetry"
)

// livenessManager owns the bridge-level token plus one per-device token,
// translating DeviceStatus transitions into bus.LivenessPublisher
// declare/revoke calls and DeviceLiveness wire records. It never
// double-declares: Mark is a no-op unless the device's status actually
// changes (spec §4.3).
type livenessManager struct {
	tokens   *bus.LivenessPublisher
	conn     *nats.Conn
	protocol telemetry.Protocol
	format   telemetry.WireFormat

	mu       sync.Mutex
	status   map[string]telemetry.DeviceStatus
	failures map[string]uint32
}

func newLivenessManager(conn *nats.Conn, bridgeName string, protocol telemetry.Protocol, format telemetry.WireFormat, republishEvery time.Duration) *livenessManager {
	return &livenessManager{
		tokens:   bus.NewLivenessPublisher(conn, bridgeName, republishEvery),
		conn:     conn,
		protocol: protocol,
		format:   format,
		status:   make(map[string]telemetry.DeviceStatus),
		failures: make(map[string]uint32),
	}
}

// Mark declares or revokes device's token on a Status transition, records
// the new status, and publishes a DeviceLiveness wire record. Declaring
// accompanies any transition out of Offline/Unknown; revoking accompanies
// the transition into Offline.
func (lm *livenessManager) Mark(device string, status telemetry.DeviceStatus) {
	lm.mu.Lock()
	prev, known := lm.status[device]
	if known && prev == status {
		lm.mu.Unlock()
		return
	}
	lm.status[device] = status
	failures := lm.failures[device]
	lm.mu.Unlock()

	switch status {
	case telemetry.DeviceOffline:
		lm.tokens.Revoke(device)
	case telemetry.DeviceOnline, telemetry.DeviceDegraded:
		if !known || prev == telemetry.DeviceOffline || prev == telemetry.DeviceUnknown {
			lm.tokens.Declare(device)
		}
	}

	lm.publishLiveness(device, status, failures)
}

// recordFailureCount lets healthReporter keep the DeviceLiveness wire
// record's ConsecutiveFailures in sync without exposing lm.status's lock.
func (lm *livenessManager) recordFailureCount(device string, failures uint32) {
	lm.mu.Lock()
	lm.failures[device] = failures
	lm.mu.Unlock()
}

func (lm *livenessManager) publishLiveness(device string, status telemetry.DeviceStatus, failures uint32) {
	rec := telemetry.DeviceLiveness{
		Device:              device,
		Status:              status,
		LastSeen:            telemetry.NowMs(),
		ConsecutiveFailures: failures,
	}
	data, err := telemetry.EncodeLiveness(&rec, lm.format)
	if err != nil {
		return
	}
	_ = lm.conn.Publish(bus.ToSubject(telemetry.DeviceLivenessKey(lm.protocol, device)), data)
}

// Status returns device's last-known liveness status (Unknown if never
// observed).
func (lm *livenessManager) Status(device string) telemetry.DeviceStatus {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if s, ok := lm.status[device]; ok {
		return s
	}
	return telemetry.DeviceUnknown
}

func (lm *livenessManager) Stop() {
	lm.tokens.Stop()
}
