package telemetry

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// reservedChars mirrors spec §3: source/metric segments may not contain
// '/', '*', '?', '#', '$'.
const reservedChars = "/*?#$"

// ValidSegment reports whether s is a valid source or metric-path segment.
func ValidSegment(s string) bool {
	if s == "" || !utf8.ValidString(s) {
		return false
	}
	return !strings.ContainsAny(s, reservedChars)
}

// ValidMetricPath validates a slash-delimited metric path, allowing
// bracket-quoted path keys such as "interface[name=eth0]/state/counters".
func ValidMetricPath(metric string) bool {
	if metric == "" || !utf8.ValidString(metric) {
		return false
	}
	for _, seg := range strings.Split(metric, "/") {
		if seg == "" {
			return false
		}
		if !validMetricSegment(seg) {
			return false
		}
	}
	return true
}

// validMetricSegment allows a single bracketed suffix such as "[k=v]" per
// segment in addition to the base character restriction. The bracket
// content must be non-empty and free of reserved characters and brackets;
// its "k=v" shape is not checked.
func validMetricSegment(seg string) bool {
	base := seg
	if i := strings.IndexByte(seg, '['); i >= 0 {
		if !strings.HasSuffix(seg, "]") {
			return false
		}
		base = seg[:i]
		inner := seg[i+1 : len(seg)-1]
		if inner == "" || strings.ContainsAny(inner, "/*?#$[]") {
			return false
		}
	}
	if base == "" {
		return false
	}
	return !strings.ContainsAny(base, "/*?#$[]")
}

// BuildKey renders the canonical telemetry key (spec §3).
func BuildKey(protocol Protocol, source, metric string) (string, error) {
	if !protocol.Valid() {
		return "", fmt.Errorf("telemetry: invalid protocol %q", protocol)
	}
	if !ValidSegment(source) {
		return "", fmt.Errorf("telemetry: invalid source %q", source)
	}
	if !ValidMetricPath(metric) {
		return "", fmt.Errorf("telemetry: invalid metric %q", metric)
	}
	return fmt.Sprintf("zensight/%s/%s/%s", protocol, source, metric), nil
}

// ParsedKey is the recovered (protocol, source, metric) triple.
type ParsedKey struct {
	Protocol Protocol
	Source   string
	Metric   string
}

// ParseKey recovers (protocol, source, metric) from a telemetry key.
// Failure to parse is non-fatal per spec §3 — callers log and move on.
func ParseKey(key string) (ParsedKey, error) {
	const prefix = "zensight/"
	if !strings.HasPrefix(key, prefix) {
		return ParsedKey{}, fmt.Errorf("telemetry: key %q missing zensight/ prefix", key)
	}
	rest := key[len(prefix):]
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 {
		return ParsedKey{}, fmt.Errorf("telemetry: key %q has too few segments", key)
	}
	protocol := Protocol(parts[0])
	if !protocol.Valid() {
		return ParsedKey{}, fmt.Errorf("telemetry: key %q has unknown protocol", key)
	}
	if parts[1] == "@" {
		return ParsedKey{}, fmt.Errorf("telemetry: key %q is a meta/out-of-band key, not telemetry", key)
	}
	if !ValidSegment(parts[1]) || !ValidMetricPath(parts[2]) {
		return ParsedKey{}, fmt.Errorf("telemetry: key %q failed grammar check", key)
	}
	return ParsedKey{Protocol: protocol, Source: parts[1], Metric: parts[2]}, nil
}

// Out-of-band key builders (spec §3).

func HealthKey(protocol Protocol) string {
	return fmt.Sprintf("zensight/%s/@/health", protocol)
}

func DeviceLivenessKey(protocol Protocol, device string) string {
	return fmt.Sprintf("zensight/%s/@/devices/%s/liveness", protocol, device)
}

func DeviceAliveKey(protocol Protocol, device string) string {
	return fmt.Sprintf("zensight/%s/@/devices/%s/alive", protocol, device)
}

func BridgeAliveKey(protocol Protocol) string {
	return fmt.Sprintf("zensight/%s/@/alive", protocol)
}

func ErrorsKey(protocol Protocol) string {
	return fmt.Sprintf("zensight/%s/@/errors", protocol)
}

func CorrelationKey(ip string) string {
	return fmt.Sprintf("zensight/_meta/correlation/%s", ip)
}

// WellFormed checks the invariants of spec §3: valid UTF-8 fields, a
// key expression that passes the grammar, and no binary value when the
// point targets the Prometheus exporter (forProm == true).
func (p *TelemetryPoint) WellFormed(forProm bool) error {
	if _, err := BuildKey(p.Protocol, p.Source, p.Metric); err != nil {
		return err
	}
	switch p.Value.Kind {
	case KindGauge:
		if math.IsNaN(p.Value.Gauge) || math.IsInf(p.Value.Gauge, 0) {
			return fmt.Errorf("telemetry: gauge value is NaN/Inf")
		}
	case KindBinary:
		if forProm {
			return fmt.Errorf("telemetry: binary value not allowed for Prometheus export")
		}
	}
	for k, v := range p.Labels {
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return fmt.Errorf("telemetry: label %q has invalid UTF-8", k)
		}
	}
	return nil
}

// Key renders this point's canonical key expression.
func (p *TelemetryPoint) Key() (string, error) {
	return BuildKey(p.Protocol, p.Source, p.Metric)
}
