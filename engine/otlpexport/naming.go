package otlpexport

import "strings"

// instrumentName renders an OTel instrument name from protocol and metric,
// e.g. ("snmp", "cpu/utilization") -> "snmp.cpu.utilization". OTel
// instrument names are dot-separated and far less restrictive than
// Prometheus's, so this only normalizes the metric's own "/" path
// separator instead of reusing promexport's underscore-collapsing rules.
func instrumentName(protocol, metric string) string {
	m := strings.ReplaceAll(metric, "/", ".")
	if protocol == "" {
		return m
	}
	return protocol + "." + m
}
