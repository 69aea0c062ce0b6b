package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParseKeyRoundTrip(t *testing.T) {
	cases := []struct {
		protocol Protocol
		source   string
		metric   string
	}{
		{ProtocolSNMP, "router-1", "interface/eth0/octets_in"},
		{ProtocolNetflow, "10.0.0.1", "flow/bytes"},
		{ProtocolSNMP, "switch-2", "interface[name=eth0]/state/counters"},
	}
	for _, c := range cases {
		key, err := BuildKey(c.protocol, c.source, c.metric)
		require.NoError(t, err)

		parsed, err := ParseKey(key)
		require.NoError(t, err)
		assert.Equal(t, c.protocol, parsed.Protocol)
		assert.Equal(t, c.source, parsed.Source)
		assert.Equal(t, c.metric, parsed.Metric)
	}
}

func TestBuildKeyRejectsInvalidSegments(t *testing.T) {
	_, err := BuildKey(ProtocolSNMP, "bad/source", "metric")
	assert.Error(t, err)

	_, err = BuildKey("not-a-protocol", "source", "metric")
	assert.Error(t, err)

	_, err = BuildKey(ProtocolSNMP, "source", "")
	assert.Error(t, err)
}

func TestParseKeyRejectsMetaKeys(t *testing.T) {
	_, err := ParseKey(HealthKey(ProtocolSNMP))
	assert.Error(t, err, "out-of-band keys should not parse as telemetry points")
}

func TestOutOfBandKeyForms(t *testing.T) {
	assert.Equal(t, "zensight/snmp/@/health", HealthKey(ProtocolSNMP))
	assert.Equal(t, "zensight/snmp/@/devices/router-1/liveness", DeviceLivenessKey(ProtocolSNMP, "router-1"))
	assert.Equal(t, "zensight/snmp/@/devices/router-1/alive", DeviceAliveKey(ProtocolSNMP, "router-1"))
	assert.Equal(t, "zensight/snmp/@/alive", BridgeAliveKey(ProtocolSNMP))
	assert.Equal(t, "zensight/snmp/@/errors", ErrorsKey(ProtocolSNMP))
	assert.Equal(t, "zensight/_meta/correlation/10.0.0.1", CorrelationKey("10.0.0.1"))
}

// TestEncodeDecodeRoundTrip covers spec invariant #1:
// decode(encode(p, fmt)) == p, for both wire formats.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, format := range []WireFormat{FormatJSON, FormatCBOR} {
		p := &TelemetryPoint{
			Timestamp: 1700000000000,
			Source:    "router-1",
			Protocol:  ProtocolSNMP,
			Metric:    "interface/eth0/octets_in",
			Value:     CounterValue(123456),
			Labels:    map[string]string{"site": "dc1"},
		}
		data, err := EncodePoint(p, format)
		require.NoError(t, err)

		got, gotFormat, err := DecodePoint(data)
		require.NoError(t, err)
		assert.Equal(t, format, gotFormat)
		assert.Equal(t, p, got)
	}
}

func TestDetectFormatDisambiguatesJSONAndCBOR(t *testing.T) {
	assert.Equal(t, FormatJSON, DetectFormat([]byte(`{"a":1}`)))

	p := &TelemetryPoint{Protocol: ProtocolSNMP, Source: "s", Metric: "m", Value: GaugeValue(1)}
	data, err := EncodePoint(p, FormatCBOR)
	require.NoError(t, err)
	assert.Equal(t, FormatCBOR, DetectFormat(data))
}

func TestWellFormedRejectsNaNGauge(t *testing.T) {
	p := &TelemetryPoint{
		Protocol: ProtocolSNMP,
		Source:   "router-1",
		Metric:   "cpu/load",
		Value:    GaugeValue(nan()),
	}
	assert.Error(t, p.WellFormed(false))
}

func TestWellFormedRejectsBinaryForProm(t *testing.T) {
	p := &TelemetryPoint{
		Protocol: ProtocolSNMP,
		Source:   "router-1",
		Metric:   "raw/blob",
		Value:    BinaryValue([]byte{1, 2, 3}),
	}
	assert.NoError(t, p.WellFormed(false))
	assert.Error(t, p.WellFormed(true))
}

func nan() float64 {
	var zero float64
	return zero / zero
}
