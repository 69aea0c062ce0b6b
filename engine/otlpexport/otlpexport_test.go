package otlpexport

import (
	"context"
	"errors"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/99souls/zensight/engine/telemetry"
	"github.com/99souls/zensight/engine/zerr"
)

func TestInstrumentNameJoinsProtocolAndDotPath(t *testing.T) {
	require.Equal(t, "snmp.cpu.utilization", instrumentName("snmp", "cpu/utilization"))
	require.Equal(t, "cpu.utilization", instrumentName("", "cpu/utilization"))
}

func TestSeverityForMapsSyslogSeverityTable(t *testing.T) {
	cases := map[string]otellog.Severity{
		"0": otellog.SeverityFatal,
		"1": otellog.SeverityFatal,
		"2": otellog.SeverityFatal,
		"3": otellog.SeverityError,
		"4": otellog.SeverityWarn,
		"5": otellog.SeverityInfo,
		"6": otellog.SeverityInfo,
		"7": otellog.SeverityDebug,
	}
	for raw, want := range cases {
		require.Equal(t, want, severityFor(raw), "severity %s", raw)
	}
}

func TestSeverityForDefaultsToInfoOnGarbage(t *testing.T) {
	require.Equal(t, otellog.SeverityInfo, severityFor("not-a-number"))
}

func TestClassifyMetricMapsKinds(t *testing.T) {
	kind, v, ok := classifyMetric(telemetry.CounterValue(42))
	require.True(t, ok)
	require.Equal(t, instrumentSum, kind)
	require.Equal(t, float64(42), v)

	kind, v, ok = classifyMetric(telemetry.GaugeValue(3.5))
	require.True(t, ok)
	require.Equal(t, instrumentGauge, kind)
	require.Equal(t, 3.5, v)

	kind, v, ok = classifyMetric(telemetry.BoolValue(true))
	require.True(t, ok)
	require.Equal(t, instrumentGauge, kind)
	require.Equal(t, float64(1), v)

	_, _, ok = classifyMetric(telemetry.TextValue("hello"))
	require.False(t, ok)

	_, _, ok = classifyMetric(telemetry.BinaryValue([]byte{1}))
	require.False(t, ok)
}

func TestBatcherTriggersOnBatchSize(t *testing.T) {
	b := newBatcher(2, time.Now())
	full := b.Ingest(map[string]string{"device.id": "r1"}, "snmp.cpu", instrumentGauge, map[string]string{"source": "r1"}, 1, time.Now())
	require.False(t, full)
	full = b.Ingest(map[string]string{"device.id": "r1"}, "snmp.mem", instrumentGauge, map[string]string{"source": "r1"}, 2, time.Now())
	require.True(t, full)
}

func TestBatcherDedupesSameSeriesWithoutGrowingSize(t *testing.T) {
	b := newBatcher(10, time.Now())
	b.Ingest(map[string]string{"device.id": "r1"}, "snmp.cpu", instrumentGauge, map[string]string{"source": "r1"}, 1, time.Now())
	b.Ingest(map[string]string{"device.id": "r1"}, "snmp.cpu", instrumentGauge, map[string]string{"source": "r1"}, 2, time.Now())
	require.Equal(t, 1, b.Len())
}

func TestBatcherDrainClearsState(t *testing.T) {
	b := newBatcher(10, time.Now())
	b.Ingest(map[string]string{"device.id": "r1"}, "snmp.cpu", instrumentGauge, map[string]string{"source": "r1"}, 1, time.Now())
	buckets := b.Drain()
	require.Len(t, buckets, 1)
	require.Equal(t, 0, b.Len())
	require.Empty(t, b.Drain())
}

func TestBatcherSeparatesBucketsByResourceAndKind(t *testing.T) {
	b := newBatcher(10, time.Now())
	b.Ingest(map[string]string{"device.id": "r1"}, "snmp.cpu", instrumentGauge, nil, 1, time.Now())
	b.Ingest(map[string]string{"device.id": "r2"}, "snmp.cpu", instrumentGauge, nil, 1, time.Now())
	b.Ingest(map[string]string{"device.id": "r1"}, "snmp.rx", instrumentSum, nil, 1, time.Now())
	buckets := b.Drain()
	require.Len(t, buckets, 3)
}

func TestRetryPolicyRetriesTransientThenSucceeds(t *testing.T) {
	p := newRetryPolicy()
	var slept []time.Duration
	p.sleep = func(d time.Duration) { slept = append(slept, d) }

	attempts := 0
	err := p.send(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return status.Error(codes.Unavailable, "down")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Len(t, slept, 2)
}

func TestRetryPolicyGivesUpAfterMaxAttempts(t *testing.T) {
	p := newRetryPolicy()
	p.sleep = func(time.Duration) {}

	attempts := 0
	err := p.send(context.Background(), func(ctx context.Context) error {
		attempts++
		return status.Error(codes.Unavailable, "down")
	})
	require.Error(t, err)
	require.Equal(t, 4, attempts) // initial + 3 retries
}

func TestRetryPolicyDoesNotRetryPermanentFailure(t *testing.T) {
	p := newRetryPolicy()
	p.sleep = func(time.Duration) { t.Fatal("should not sleep on a permanent failure") }

	attempts := 0
	err := p.send(context.Background(), func(ctx context.Context) error {
		attempts++
		return status.Error(codes.InvalidArgument, "bad request")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestIsRetryableHonorsZerrRetryableFlag(t *testing.T) {
	require.True(t, isRetryable(zerr.Transportf(true, "boom")))
	require.False(t, isRetryable(zerr.Transportf(false, "boom")))
}

func TestIsRetryableTreats429AsTransient(t *testing.T) {
	require.True(t, isRetryable(fakeHTTPError{code: 429}))
	require.False(t, isRetryable(fakeHTTPError{code: 400}))
	require.True(t, isRetryable(fakeHTTPError{code: 503}))
}

type fakeHTTPError struct{ code int }

func (e fakeHTTPError) Error() string  { return "http error" }
func (e fakeHTTPError) StatusCode() int { return e.code }

func TestIsRetryableDefaultsToTrueForUnrecognizedErrors(t *testing.T) {
	require.True(t, isRetryable(errors.New("mystery")))
}

func TestFingerprintMapIsOrderIndependent(t *testing.T) {
	a := fingerprintMap(map[string]string{"b": "2", "a": "1"})
	b := fingerprintMap(map[string]string{"a": "1", "b": "2"})
	require.Equal(t, a, b)
}
