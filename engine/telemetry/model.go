// Package telemetry defines the canonical sample types ZenSight moves over
// its pub/sub fabric (spec §3): TelemetryPoint, HealthSnapshot,
// DeviceLiveness, ErrorReport, and the key-expression grammar that ties a
// wire key to a (protocol, source, metric) triple.
//
// Struct shape and doc density follow engine/models.Page in the teacher:
// one exported comment per type, field tags for both json and cbor where a
// type crosses the wire in either form.
package telemetry

import (
	"time"
)

// Protocol is the tagged variant over the six supported ingest protocols.
type Protocol string

const (
	ProtocolSNMP    Protocol = "snmp"
	ProtocolSyslog  Protocol = "syslog"
	ProtocolNetflow Protocol = "netflow"
	ProtocolModbus  Protocol = "modbus"
	ProtocolSysinfo Protocol = "sysinfo"
	ProtocolGNMI    Protocol = "gnmi"
)

func (p Protocol) Valid() bool {
	switch p {
	case ProtocolSNMP, ProtocolSyslog, ProtocolNetflow, ProtocolModbus, ProtocolSysinfo, ProtocolGNMI:
		return true
	}
	return false
}

// ValueKind tags the variant carried by a Value.
type ValueKind string

const (
	KindCounter ValueKind = "counter"
	KindGauge   ValueKind = "gauge"
	KindText    ValueKind = "text"
	KindBool    ValueKind = "boolean"
	KindBinary  ValueKind = "binary"
)

// Value is the tagged union carried by a TelemetryPoint. Only the field
// matching Kind is meaningful; the rest are zero.
type Value struct {
	Kind    ValueKind `json:"kind" cbor:"kind"`
	Counter uint64    `json:"counter,omitempty" cbor:"counter,omitempty"`
	Gauge   float64   `json:"gauge,omitempty" cbor:"gauge,omitempty"`
	Text    string    `json:"text,omitempty" cbor:"text,omitempty"`
	Bool    bool      `json:"boolean,omitempty" cbor:"boolean,omitempty"`
	Binary  []byte    `json:"binary,omitempty" cbor:"binary,omitempty"`
}

func CounterValue(v uint64) Value  { return Value{Kind: KindCounter, Counter: v} }
func GaugeValue(v float64) Value   { return Value{Kind: KindGauge, Gauge: v} }
func TextValue(v string) Value     { return Value{Kind: KindText, Text: v} }
func BoolValue(v bool) Value       { return Value{Kind: KindBool, Bool: v} }
func BinaryValue(v []byte) Value   { return Value{Kind: KindBinary, Binary: v} }

// TelemetryPoint is the universal sample (spec §3).
type TelemetryPoint struct {
	Timestamp int64             `json:"timestamp" cbor:"timestamp"`
	Source    string            `json:"source" cbor:"source"`
	Protocol  Protocol          `json:"protocol" cbor:"protocol"`
	Metric    string            `json:"metric" cbor:"metric"`
	Value     Value             `json:"value" cbor:"value"`
	Labels    map[string]string `json:"labels,omitempty" cbor:"labels,omitempty"`
}

// HealthStatus is the coarse bridge health classification (spec §3).
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthSnapshot is published periodically per bridge.
type HealthSnapshot struct {
	Bridge              string       `json:"bridge" cbor:"bridge"`
	Status              HealthStatus `json:"status" cbor:"status"`
	UptimeSecs          int64        `json:"uptime_secs" cbor:"uptime_secs"`
	DevicesTotal        int          `json:"devices_total" cbor:"devices_total"`
	DevicesResponding   int          `json:"devices_responding" cbor:"devices_responding"`
	DevicesFailed       int          `json:"devices_failed" cbor:"devices_failed"`
	LastPollDurationMs  int64        `json:"last_poll_duration_ms" cbor:"last_poll_duration_ms"`
	ErrorsLastHour      int          `json:"errors_last_hour" cbor:"errors_last_hour"`
	MetricsPublished    int64        `json:"metrics_published" cbor:"metrics_published"`
}

// DeviceStatus is the liveness state machine driven by §4.3.
type DeviceStatus string

const (
	DeviceUnknown  DeviceStatus = "Unknown"
	DeviceOnline   DeviceStatus = "Online"
	DeviceDegraded DeviceStatus = "Degraded"
	DeviceOffline  DeviceStatus = "Offline"
)

// DeviceLiveness reports a single device's reachability state.
type DeviceLiveness struct {
	Device             string       `json:"device" cbor:"device"`
	Status             DeviceStatus `json:"status" cbor:"status"`
	LastSeen           int64        `json:"last_seen" cbor:"last_seen"`
	ConsecutiveFailures uint32      `json:"consecutive_failures" cbor:"consecutive_failures"`
	LastError          string       `json:"last_error,omitempty" cbor:"last_error,omitempty"`
}

// ErrorType mirrors zerr.Type for wire purposes (kept distinct so the wire
// schema doesn't couple to the internal error package's Go type identity).
type ErrorType string

const (
	ErrTimeout    ErrorType = "timeout"
	ErrAuth       ErrorType = "auth"
	ErrConnection ErrorType = "connection"
	ErrParse      ErrorType = "parse"
	ErrConfig     ErrorType = "config"
	ErrOther      ErrorType = "other"
)

// ErrorReport is a fire-and-forget error notice (spec §3).
type ErrorReport struct {
	Timestamp int64     `json:"timestamp" cbor:"timestamp"`
	Device    string    `json:"device,omitempty" cbor:"device,omitempty"`
	ErrorType ErrorType `json:"error_type" cbor:"error_type"`
	Message   string    `json:"message" cbor:"message"`
	Retryable bool      `json:"retryable" cbor:"retryable"`
}

// NowMs returns the current wall-clock time in Unix milliseconds, the unit
// of TelemetryPoint.Timestamp.
func NowMs() int64 { return time.Now().UnixMilli() }
