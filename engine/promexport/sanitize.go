package promexport

import "strings"

// SanitizeMetricName renders a Prometheus-safe metric name from prefix,
// protocol, and metric (spec §4.7): non-`[A-Za-z0-9_:]` characters become
// `_`, consecutive underscores collapse to one, and a leading digit gets a
// `_` prefix. Idempotent: sanitizing an already-sanitized name is a no-op.
func SanitizeMetricName(prefix string, protocol, metric string) string {
	raw := metric
	if protocol != "" {
		raw = protocol + "_" + raw
	}
	if prefix != "" {
		raw = prefix + "_" + raw
	}
	return sanitize(raw)
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 1)
	lastUnderscore := false
	for _, r := range s {
		valid := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == ':'
		if !valid {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if out == "" {
		return "_"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}
