package bridge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/telemetry"
)

// deviceHealth tracks one device's rolling poll outcome state.
type deviceHealth struct {
	consecutiveFailures uint32
	lastLatencyMs       int64
	lastError           string
	lastSeenMs          int64
}

// healthReporter implements HealthReporter, driving the DeviceStatus state
// machine of spec §4.3 from RecordSuccess/RecordFailure calls and
// forwarding every transition to a livenessManager.
type healthReporter struct {
	cfgMu sync.RWMutex
	cfg   config.LivenessConfig

	liveness  *livenessManager
	startedAt time.Time

	mu      sync.Mutex
	devices map[string]*deviceHealth

	published atomic.Int64
	errorsLastHour atomic.Int64
}

func newHealthReporter(cfg config.LivenessConfig, liveness *livenessManager) *healthReporter {
	return &healthReporter{
		cfg:       cfg,
		liveness:  liveness,
		startedAt: time.Now(),
		devices:   make(map[string]*deviceHealth),
	}
}

// liveCfg returns the currently active liveness thresholds, safe to call
// concurrently with updateConfig.
func (h *healthReporter) liveCfg() config.LivenessConfig {
	h.cfgMu.RLock()
	defer h.cfgMu.RUnlock()
	return h.cfg
}

// updateConfig swaps the liveness thresholds a running Runner evaluates
// RecordSuccess/RecordFailure against, letting a config hot-reload take
// effect without restarting the bridge.
func (h *healthReporter) updateConfig(cfg config.LivenessConfig) {
	h.cfgMu.Lock()
	h.cfg = cfg
	h.cfgMu.Unlock()
}

func (h *healthReporter) deviceFor(device string) *deviceHealth {
	d, ok := h.devices[device]
	if !ok {
		d = &deviceHealth{}
		h.devices[device] = d
	}
	return d
}

// RecordSuccess marks device reachable: resets consecutive_failures and
// drives Unknown/Offline → Online, or Degraded → Online on the next poll.
func (h *healthReporter) RecordSuccess(device string, latencyMs int64) {
	h.mu.Lock()
	d := h.deviceFor(device)
	d.consecutiveFailures = 0
	d.lastLatencyMs = latencyMs
	d.lastError = ""
	d.lastSeenMs = telemetry.NowMs()
	h.mu.Unlock()

	h.published.Add(1)

	cfg := h.liveCfg()
	status := telemetry.DeviceOnline
	if cfg.DegradedLatencyMs > 0 && latencyMs > cfg.DegradedLatencyMs {
		status = telemetry.DeviceDegraded
	}
	if h.liveness != nil {
		h.liveness.recordFailureCount(device, 0)
		h.liveness.Mark(device, status)
	}
}

// RecordFailure increments consecutive_failures and drives Online →
// Degraded → Offline per the configured thresholds.
func (h *healthReporter) RecordFailure(device string, err error) {
	h.mu.Lock()
	d := h.deviceFor(device)
	d.consecutiveFailures++
	if err != nil {
		d.lastError = err.Error()
	}
	failures := d.consecutiveFailures
	h.mu.Unlock()

	h.errorsLastHour.Add(1)

	cfg := h.liveCfg()
	status := telemetry.DeviceDegraded
	threshold := cfg.OfflineThreshold
	if threshold == 0 {
		threshold = 3
	}
	degradedAt := cfg.DegradedThreshold
	if degradedAt == 0 {
		degradedAt = 1
	}
	switch {
	case failures >= threshold:
		status = telemetry.DeviceOffline
	case failures >= degradedAt:
		status = telemetry.DeviceDegraded
	default:
		return // below the degraded threshold: remains whatever it was
	}
	if h.liveness != nil {
		h.liveness.recordFailureCount(device, failures)
		h.liveness.Mark(device, status)
	}
}

// Liveness returns device's DeviceLiveness wire record.
func (h *healthReporter) Liveness(device string) telemetry.DeviceLiveness {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := h.deviceFor(device)
	status := telemetry.DeviceUnknown
	if h.liveness != nil {
		status = h.liveness.Status(device)
	}
	return telemetry.DeviceLiveness{
		Device:              device,
		Status:              status,
		LastSeen:            d.lastSeenMs,
		ConsecutiveFailures: d.consecutiveFailures,
		LastError:           d.lastError,
	}
}

// Snapshot builds the bridge's aggregate HealthSnapshot (spec §3).
func (h *healthReporter) Snapshot(bridgeName string) telemetry.HealthSnapshot {
	h.mu.Lock()
	total := len(h.devices)
	var failed int
	for name := range h.devices {
		status := telemetry.DeviceUnknown
		if h.liveness != nil {
			status = h.liveness.Status(name)
		}
		if status == telemetry.DeviceOffline {
			failed++
		}
	}
	h.mu.Unlock()

	status := telemetry.HealthHealthy
	switch {
	case total > 0 && failed == total:
		status = telemetry.HealthUnhealthy
	case failed > 0:
		status = telemetry.HealthDegraded
	}

	return telemetry.HealthSnapshot{
		Bridge:            bridgeName,
		Status:            status,
		UptimeSecs:        int64(time.Since(h.startedAt).Seconds()),
		DevicesTotal:      total,
		DevicesResponding: total - failed,
		DevicesFailed:     failed,
		ErrorsLastHour:    int(h.errorsLastHour.Load()),
		MetricsPublished:  h.published.Load(),
	}
}
