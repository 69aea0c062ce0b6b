package snmp

import (
	"strconv"
	"strings"

	"github.com/gosnmp/gosnmp"

	"github.com/99souls/zensight/engine/telemetry"
)

// oidMapper resolves a raw response OID to a metric name and coerces its
// gosnmp value into a telemetry.Value. Resolution order (spec §4.4): the
// device's own oid_names, then the bridge-wide oid_names table, then the
// dotted OID itself as a last resort so nothing is silently dropped.
type oidMapper struct {
	deviceNames map[string]string
	bridgeNames map[string]string
}

func newOIDMapper(deviceNames, bridgeNames map[string]string) *oidMapper {
	return &oidMapper{deviceNames: deviceNames, bridgeNames: bridgeNames}
}

// metricName resolves oid to a metric path, applying the {index} tail
// substitution for values discovered by WALK: walkBase is the OID the walk
// was rooted at, and oid is the full returned OID including the index tail.
// The substituted value is the index tail's last sub-identifier, the
// documented default for interface-table style OIDs (resolved Open
// Question, see DESIGN.md). mapped reports whether name came from either
// names table; when false the caller is publishing under the raw dotted
// OID (spec §4.4 point 4) and must carry labels.oid alongside it.
func (m *oidMapper) metricName(oid, walkBase string) (metric string, indexOID string, mapped bool) {
	base := oid
	if walkBase != "" && strings.HasPrefix(oid, walkBase+".") {
		base = walkBase
		indexOID = strings.TrimPrefix(oid, walkBase+".")
	}

	name, ok := m.deviceNames[trimDot(base)]
	if !ok {
		name, ok = m.bridgeNames[trimDot(base)]
	}
	mapped = ok
	if !ok {
		name = trimDot(base)
	}

	if indexOID != "" {
		last := indexOID
		if i := strings.LastIndexByte(indexOID, '.'); i >= 0 {
			last = indexOID[i+1:]
		}
		name = strings.ReplaceAll(name, "{index}", last)
	}
	return name, indexOID, mapped
}

func trimDot(oid string) string {
	return strings.TrimPrefix(oid, ".")
}

// coerceValue maps a gosnmp.SnmpPDU's ASN.1 type onto the telemetry Value
// tagged union (spec §4.4's value-kind coercion table).
func coerceValue(pdu gosnmp.SnmpPDU) telemetry.Value {
	switch pdu.Type {
	case gosnmp.Counter32, gosnmp.Counter64, gosnmp.Uinteger32, gosnmp.Gauge32:
		return telemetry.CounterValue(gosnmp.ToBigInt(pdu.Value).Uint64())
	case gosnmp.TimeTicks:
		return telemetry.CounterValue(gosnmp.ToBigInt(pdu.Value).Uint64())
	case gosnmp.Integer:
		v, _ := pdu.Value.(int)
		return telemetry.GaugeValue(float64(v))
	case gosnmp.OctetString:
		b, _ := pdu.Value.([]byte)
		return telemetry.TextValue(string(b))
	case gosnmp.IPAddress:
		s, _ := pdu.Value.(string)
		return telemetry.TextValue(s)
	case gosnmp.ObjectIdentifier:
		s, _ := pdu.Value.(string)
		return telemetry.TextValue(s)
	case gosnmp.Opaque:
		b, _ := pdu.Value.([]byte)
		return telemetry.BinaryValue(b)
	case gosnmp.Boolean:
		v, _ := pdu.Value.(bool)
		return telemetry.BoolValue(v)
	default:
		return telemetry.TextValue(valueToString(pdu.Value))
	}
}

func valueToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case []byte:
		return string(t)
	default:
		return ""
	}
}
