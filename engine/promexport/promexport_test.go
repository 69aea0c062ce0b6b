package promexport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/telemetry"
)

func TestSanitizeMetricNameReplacesInvalidCharsAndCollapses(t *testing.T) {
	require.Equal(t, "zensight_snmp_if_in_octets", SanitizeMetricName("zensight", "snmp", "if--in..octets"))
}

func TestSanitizeMetricNamePrefixesLeadingDigit(t *testing.T) {
	got := SanitizeMetricName("", "", "9lives")
	require.Equal(t, "_9lives", got)
}

func TestSanitizeMetricNameIsIdempotent(t *testing.T) {
	once := SanitizeMetricName("zensight", "snmp", "if--in..octets///x")
	twice := sanitize(once)
	require.Equal(t, once, twice)
}

func gaugePoint(source, metric string, v float64) *telemetry.TelemetryPoint {
	return &telemetry.TelemetryPoint{
		Timestamp: telemetry.NowMs(),
		Source:    source,
		Protocol:  telemetry.ProtocolSNMP,
		Metric:    metric,
		Value:     telemetry.GaugeValue(v),
	}
}

func TestIngestAcceptsNewSeriesAndExposesIt(t *testing.T) {
	a := New(config.PrometheusConfig{Prefix: "zensight"})
	require.NoError(t, a.Ingest(gaugePoint("router-1", "cpu/utilization", 42)))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.Contains(t, rec.Body.String(), "zensight_snmp_cpu_utilization")
	require.Contains(t, rec.Body.String(), `source="router-1"`)
}

func TestIngestRejectsKindChangeOnExistingSeries(t *testing.T) {
	a := New(config.PrometheusConfig{})
	require.NoError(t, a.Ingest(gaugePoint("router-1", "cpu/utilization", 42)))

	counterPoint := &telemetry.TelemetryPoint{
		Source: "router-1", Protocol: telemetry.ProtocolSNMP, Metric: "cpu/utilization",
		Value: telemetry.CounterValue(5),
	}
	err := a.Ingest(counterPoint)
	require.Error(t, err)
}

func TestIngestEnforcesMaxSeriesBound(t *testing.T) {
	a := New(config.PrometheusConfig{Aggregation: config.AggregationConfig{MaxSeries: 1}})
	require.NoError(t, a.Ingest(gaugePoint("router-1", "cpu/utilization", 1)))
	err := a.Ingest(gaugePoint("router-2", "cpu/utilization", 1))
	require.Error(t, err)
}

func TestIngestDropsBinaryValues(t *testing.T) {
	a := New(config.PrometheusConfig{})
	pt := &telemetry.TelemetryPoint{Source: "router-1", Protocol: telemetry.ProtocolSNMP, Metric: "blob", Value: telemetry.BinaryValue([]byte{1, 2, 3})}
	require.NoError(t, a.Ingest(pt))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.NotContains(t, rec.Body.String(), "blob")
}

func TestIngestFiltersExcludedMetricsAndProtocols(t *testing.T) {
	a := New(config.PrometheusConfig{Filters: config.FiltersConfig{
		IncludeProtocols: []string{"netflow"},
		ExcludeMetrics:   []string{"cpu/utilization"},
	}})
	require.NoError(t, a.Ingest(gaugePoint("router-1", "cpu/utilization", 1)))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.NotContains(t, rec.Body.String(), "cpu_utilization")
}

func TestSweepRemovesStaleEntries(t *testing.T) {
	a := New(config.PrometheusConfig{})
	require.NoError(t, a.Ingest(gaugePoint("router-1", "cpu/utilization", 1)))

	removed := a.Sweep(time.Now().Add(time.Hour))
	require.Equal(t, 1, removed)
}

func TestReadyHandlerTransitionsAfterFirstPoint(t *testing.T) {
	a := New(config.PrometheusConfig{})

	rec := httptest.NewRecorder()
	a.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, a.Ingest(gaugePoint("router-1", "cpu/utilization", 1)))

	rec = httptest.NewRecorder()
	a.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthHandlerAlwaysOK(t *testing.T) {
	a := New(config.PrometheusConfig{})
	rec := httptest.NewRecorder()
	a.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
