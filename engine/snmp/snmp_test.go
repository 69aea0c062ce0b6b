package snmp

import (
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/require"

	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/telemetry"
)

func TestOIDMapperResolvesNameThenFallsBackToDottedOID(t *testing.T) {
	mapper := newOIDMapper(nil, map[string]string{"1.3.6.1.2.1.1.3.0": "sysUpTime"})

	name, idx, mapped := mapper.metricName("1.3.6.1.2.1.1.3.0", "")
	require.Equal(t, "sysUpTime", name)
	require.Empty(t, idx)
	require.True(t, mapped)

	name, idx, mapped = mapper.metricName("1.3.6.1.2.1.1.99.0", "")
	require.Equal(t, "1.3.6.1.2.1.1.99.0", name)
	require.Empty(t, idx)
	require.False(t, mapped, "unresolved OIDs must report mapped=false so callers attach labels.oid")
}

func TestOIDMapperSubstitutesIndexTail(t *testing.T) {
	mapper := newOIDMapper(nil, map[string]string{"1.3.6.1.2.1.2.2.1.10": "ifInOctets/{index}"})

	name, idx, mapped := mapper.metricName("1.3.6.1.2.1.2.2.1.10.5", "1.3.6.1.2.1.2.2.1.10")
	require.Equal(t, "ifInOctets/5", name)
	require.Equal(t, "5", idx)
	require.True(t, mapped)
}

func TestOIDMapperDeviceNamesTakePrecedenceOverBridgeNames(t *testing.T) {
	mapper := newOIDMapper(
		map[string]string{"1.3.6.1.2.1.1.3.0": "deviceSpecificName"},
		map[string]string{"1.3.6.1.2.1.1.3.0": "bridgeWideName"},
	)
	name, _, mapped := mapper.metricName("1.3.6.1.2.1.1.3.0", "")
	require.Equal(t, "deviceSpecificName", name)
	require.True(t, mapped)
}

func TestPollerPointSetsOIDLabelOnlyWhenUnmapped(t *testing.T) {
	p := &Poller{device: config.SNMPDevice{Name: "router-1"}}

	mapped := p.point(0, "sysUpTime", "", "1.3.6.1.2.1.1.3.0", true, telemetry.CounterValue(1))
	require.NotContains(t, mapped.Labels, "oid")

	unmapped := p.point(0, "1.3.6.1.2.1.1.99.0", "", "1.3.6.1.2.1.1.99.0", false, telemetry.CounterValue(1))
	require.Equal(t, "1.3.6.1.2.1.1.99.0", unmapped.Labels["oid"])
}

func TestCoerceValueMapsASN1Types(t *testing.T) {
	cases := []struct {
		name string
		pdu  gosnmp.SnmpPDU
		kind telemetry.ValueKind
	}{
		{"counter32", gosnmp.SnmpPDU{Type: gosnmp.Counter32, Value: 42}, telemetry.KindCounter},
		{"counter64", gosnmp.SnmpPDU{Type: gosnmp.Counter64, Value: uint64(9999)}, telemetry.KindCounter},
		{"timeticks", gosnmp.SnmpPDU{Type: gosnmp.TimeTicks, Value: 123}, telemetry.KindCounter},
		{"integer", gosnmp.SnmpPDU{Type: gosnmp.Integer, Value: -7}, telemetry.KindGauge},
		{"octetstring", gosnmp.SnmpPDU{Type: gosnmp.OctetString, Value: []byte("eth0")}, telemetry.KindText},
		{"opaque", gosnmp.SnmpPDU{Type: gosnmp.Opaque, Value: []byte{0x01}}, telemetry.KindBinary},
		{"boolean", gosnmp.SnmpPDU{Type: gosnmp.Boolean, Value: true}, telemetry.KindBool},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v := coerceValue(c.pdu)
			require.Equal(t, c.kind, v.Kind)
		})
	}
}

func TestNextTickAdvancesByWholePeriodsWithoutDrift(t *testing.T) {
	interval := 10 * time.Second
	prev := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Normal case: poll finished well within the interval.
	now := prev.Add(1 * time.Second)
	next := nextTick(prev, interval, now)
	require.Equal(t, prev.Add(interval), next)

	// Overrun case: the poll took 2.5 periods; the next tick must be the
	// next whole-period boundary after now, not prev+interval (which would
	// already be in the past) and not now+interval (which would drift).
	now = prev.Add(25 * time.Second)
	next = nextTick(prev, interval, now)
	require.Equal(t, prev.Add(30*time.Second), next)
	require.True(t, next.After(now))
}

func TestSanitizeOIDReplacesDotsWithDashes(t *testing.T) {
	require.Equal(t, "1-3-6-1-6-3-1-1-5-1", sanitizeOID(".1.3.6.1.6.3.1.1.5.1"))
}

func TestDeviceIPStripsPortWhenPresent(t *testing.T) {
	require.Equal(t, "192.0.2.1", deviceIP("192.0.2.1:161"))
	require.Equal(t, "192.0.2.1", deviceIP("192.0.2.1"))
	require.Equal(t, "switch.lan", deviceIP("switch.lan"))
}
