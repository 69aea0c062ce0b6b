package frontend

import (
	"sync"
	"time"

	"github.com/99souls/zensight/engine/subscriber"
	"github.com/99souls/zensight/engine/telemetry"
)

// DeviceState is one device's dashboard-facing reachability, combining the
// bridge-computed DeviceLiveness with the frontend's own staleness overlay
// (spec §4.6: "the frontend applies an additional local staleness
// overlay"). Status is never overwritten locally — Stale is additional
// information next to it, not a replacement for it, since the bridge
// remains the source of truth for the state machine itself (spec §4.3).
type DeviceState struct {
	Bridge              string
	Device              string
	Status              telemetry.DeviceStatus
	LastSeenMs          int64
	ConsecutiveFailures uint32
	LastError           string
	Stale               bool
}

// BridgeState is one bridge process's dashboard-facing connectivity.
type BridgeState struct {
	Online bool
}

// DashboardState is the full reduced view a visualizer renders: per-bridge
// connectivity, per-device reachability, and a running error count (spec
// §7: "error reports appear as a red counter on the dashboard").
type DashboardState struct {
	mu         sync.RWMutex
	bridges    map[string]*BridgeState
	devices    map[string]*DeviceState // keyed by bridge+"/"+device
	errorCount int
}

// NewDashboardState builds an empty DashboardState.
func NewDashboardState() *DashboardState {
	return &DashboardState{
		bridges: make(map[string]*BridgeState),
		devices: make(map[string]*DeviceState),
	}
}

func deviceKey(bridge, device string) string { return bridge + "/" + device }

// ApplyMessage folds a subscriber.Message (spec §4.6's BridgeOnline/
// Offline, DeviceOnline/Offline) into the dashboard state.
func (d *DashboardState) ApplyMessage(msg subscriber.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch msg.Kind {
	case subscriber.BridgeOnline, subscriber.BridgeOffline:
		b, ok := d.bridges[msg.Bridge]
		if !ok {
			b = &BridgeState{}
			d.bridges[msg.Bridge] = b
		}
		b.Online = msg.Kind == subscriber.BridgeOnline
	case subscriber.DeviceOnline, subscriber.DeviceOffline:
		key := deviceKey(msg.Bridge, msg.Device)
		dev, ok := d.devices[key]
		if !ok {
			dev = &DeviceState{Bridge: msg.Bridge, Device: msg.Device}
			d.devices[key] = dev
		}
		if msg.Kind == subscriber.DeviceOffline {
			dev.Status = telemetry.DeviceOffline
		} else if dev.Status == telemetry.DeviceOffline || dev.Status == telemetry.DeviceUnknown {
			dev.Status = telemetry.DeviceOnline
		}
	}
}

// ApplyLiveness folds a decoded DeviceLiveness record into the device's
// state — this is the authoritative status/last-seen/failure-count source;
// ApplyMessage only ever toggles a coarser online/offline view derived
// from presence tokens, so a liveness record always wins on the fields it
// carries.
func (d *DashboardState) ApplyLiveness(bridge string, lv telemetry.DeviceLiveness) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := deviceKey(bridge, lv.Device)
	dev, ok := d.devices[key]
	if !ok {
		dev = &DeviceState{Bridge: bridge, Device: lv.Device}
		d.devices[key] = dev
	}
	dev.Status = lv.Status
	dev.LastSeenMs = lv.LastSeen
	dev.ConsecutiveFailures = lv.ConsecutiveFailures
	dev.LastError = lv.LastError
	dev.Stale = false
}

// ApplyError increments the dashboard's red error counter (spec §7).
func (d *DashboardState) ApplyError(telemetry.ErrorReport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errorCount++
}

// ErrorCount returns the current error counter.
func (d *DashboardState) ErrorCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.errorCount
}

// RefreshStaleness recomputes the Stale overlay on every device whose
// LastSeenMs is older than staleAfter, as of now. It never touches Status.
func (d *DashboardState) RefreshStaleness(now time.Time, staleAfter time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := now.Add(-staleAfter).UnixMilli()
	for _, dev := range d.devices {
		dev.Stale = dev.LastSeenMs != 0 && dev.LastSeenMs < cutoff
	}
}

// Devices returns a snapshot copy of every known device's state.
func (d *DashboardState) Devices() []DeviceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]DeviceState, 0, len(d.devices))
	for _, dev := range d.devices {
		out = append(out, *dev)
	}
	return out
}

// BridgeOnline reports whether bridge is currently considered online.
func (d *DashboardState) BridgeOnline(bridge string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.bridges[bridge]
	return ok && b.Online
}
