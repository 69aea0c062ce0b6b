// Package promexport implements the Prometheus Aggregator & Exposition
// engine (spec §4.7): an in-memory mapping from (protocol, source, metric,
// labels) to the latest observed value, exposed over HTTP in Prometheus
// text format.
//
// Exposition is built on a custom prometheus.Collector rather than a
// hand-rolled text writer: each series gets its own *prometheus.Desc built
// from its own (fully dynamic) label set, and Collect streams the current
// snapshot through prometheus.MustNewConstMetric. Its Describe sends
// nothing, making it an "unchecked" collector in client_golang's own
// terminology — the right shape when the metric/label universe is only
// known at runtime. The registry's own Gather sorts families by name and
// samples by label pairs, which is where the spec's "sorted by (metric
// name, label fingerprint)" requirement comes from for free.
package promexport

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/telemetry"
	"github.com/99souls/zensight/engine/zerr"
)

// seriesKind mirrors the Prometheus value type an entry is exposed as.
type seriesKind int

const (
	kindCounter seriesKind = iota
	kindGauge
	kindInfo
)

type series struct {
	kind        seriesKind
	desc        *prom.Desc
	labelValues []string // aligned with desc's declared (sorted) label names
	value       float64
	lastUpdate  time.Time
}

// Aggregator is the Prometheus Aggregator of spec §4.7.
type Aggregator struct {
	prefix          string
	defaultLabels   map[string]string
	maxSeries       int
	staleTimeout    time.Duration
	cleanupInterval time.Duration
	includeProtocols map[string]bool
	excludeMetrics   map[string]bool

	reg *prom.Registry

	mu      sync.RWMutex
	entries map[string]*series

	ready atomic.Bool

	seriesTotal        prom.Gauge
	pointsReceived      prom.Counter
	pointsFiltered      prom.Counter
	pointsRejectedKind  prom.Counter
	pointsRejectedCap   prom.Counter
}

// New builds an Aggregator from the bridge's `prometheus.*` configuration
// block, registering both the dynamic telemetry collector and the
// aggregator's own internal counters on a fresh registry.
func New(cfg config.PrometheusConfig) *Aggregator {
	staleTimeout := time.Duration(cfg.Aggregation.StaleTimeoutSecs) * time.Second
	if staleTimeout <= 0 {
		staleTimeout = 5 * time.Minute
	}
	cleanupInterval := time.Duration(cfg.Aggregation.CleanupIntervalSecs) * time.Second
	if cleanupInterval <= 0 {
		cleanupInterval = 30 * time.Second
	}
	maxSeries := cfg.Aggregation.MaxSeries
	if maxSeries <= 0 {
		maxSeries = 100000
	}

	a := &Aggregator{
		prefix:          cfg.Prefix,
		maxSeries:       maxSeries,
		staleTimeout:    staleTimeout,
		cleanupInterval: cleanupInterval,
		entries:         make(map[string]*series),
		reg:             prom.NewRegistry(),
	}
	if len(cfg.Filters.IncludeProtocols) > 0 {
		a.includeProtocols = make(map[string]bool, len(cfg.Filters.IncludeProtocols))
		for _, p := range cfg.Filters.IncludeProtocols {
			a.includeProtocols[p] = true
		}
	}
	if len(cfg.Filters.ExcludeMetrics) > 0 {
		a.excludeMetrics = make(map[string]bool, len(cfg.Filters.ExcludeMetrics))
		for _, m := range cfg.Filters.ExcludeMetrics {
			a.excludeMetrics[m] = true
		}
	}

	a.seriesTotal = prom.NewGauge(prom.GaugeOpts{Name: "zensight_exporter_series_total", Help: "Active series currently held by the aggregator"})
	a.pointsReceived = prom.NewCounter(prom.CounterOpts{Name: "zensight_exporter_points_received_total", Help: "Telemetry points accepted by the aggregator"})
	a.pointsFiltered = prom.NewCounter(prom.CounterOpts{Name: "zensight_exporter_points_filtered_total", Help: "Telemetry points dropped by protocol/metric filters"})
	a.pointsRejectedKind = prom.NewCounter(prom.CounterOpts{Name: "zensight_exporter_points_rejected_kind_total", Help: "Points rejected for changing an existing series' kind"})
	a.pointsRejectedCap = prom.NewCounter(prom.CounterOpts{Name: "zensight_exporter_points_rejected_max_series_total", Help: "Points rejected for exceeding max_series"})

	a.reg.MustRegister(a, a.seriesTotal, a.pointsReceived, a.pointsFiltered, a.pointsRejectedKind, a.pointsRejectedCap)
	return a
}

// Registry exposes the registry an HTTP handler should serve.
func (a *Aggregator) Registry() *prom.Registry { return a.reg }

// Ready reports whether at least one point has ever been accepted (spec
// §4.7's /ready contract).
func (a *Aggregator) Ready() bool { return a.ready.Load() }

// Ingest folds one telemetry point into the aggregator (spec §4.7).
func (a *Aggregator) Ingest(point *telemetry.TelemetryPoint) error {
	if a.includeProtocols != nil && !a.includeProtocols[string(point.Protocol)] {
		a.pointsFiltered.Inc()
		return nil
	}
	if a.excludeMetrics != nil && a.excludeMetrics[point.Metric] {
		a.pointsFiltered.Inc()
		return nil
	}
	a.pointsReceived.Inc()

	if point.Value.Kind == telemetry.KindBinary {
		return nil
	}

	kind, value := classify(point.Value)
	name := SanitizeMetricName(a.prefix, string(point.Protocol), point.Metric)
	labels := mergeLabels(a.defaultLabels, point.Source, point.Labels, kind, point.Value.Text)

	names := sortedKeys(labels)
	values := make([]string, len(names))
	for i, n := range names {
		values[i] = labels[n]
	}
	fp := fingerprint(names, values)
	key := name + "\x00" + fp

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.entries[key]; ok {
		if existing.kind != kind {
			a.pointsRejectedKind.Inc()
			return zerr.Parsef(point.Source, "promexport: series %s changed kind", name)
		}
		existing.value = value
		existing.lastUpdate = time.Now()
		return nil
	}

	if len(a.entries) >= a.maxSeries {
		a.pointsRejectedCap.Inc()
		return zerr.Overflowf("promexport: max_series (%d) reached, rejecting %s", a.maxSeries, name)
	}

	desc := prom.NewDesc(name, "zensight telemetry series "+name, names, nil)
	a.entries[key] = &series{kind: kind, desc: desc, labelValues: values, value: value, lastUpdate: time.Now()}
	a.seriesTotal.Set(float64(len(a.entries)))
	a.ready.Store(true)
	return nil
}

// Sweep removes every series whose last update predates the configured
// staleness timeout (spec §4.7).
func (a *Aggregator) Sweep(now time.Time) (removed int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, s := range a.entries {
		if now.Sub(s.lastUpdate) > a.staleTimeout {
			delete(a.entries, key)
			removed++
		}
	}
	if removed > 0 {
		a.seriesTotal.Set(float64(len(a.entries)))
	}
	return removed
}

// SweepLoop runs Sweep on CleanupIntervalSecs until ctx is cancelled.
func (a *Aggregator) SweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep(time.Now())
		}
	}
}

// Describe intentionally sends nothing: the series set is fully dynamic
// and only known at scrape time, making this an unchecked collector.
func (a *Aggregator) Describe(ch chan<- *prom.Desc) {}

// Collect streams a consistent snapshot of every active series.
func (a *Aggregator) Collect(ch chan<- prom.Metric) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, s := range a.entries {
		valueType := prom.GaugeValue
		if s.kind == kindCounter {
			valueType = prom.CounterValue
		}
		m, err := prom.NewConstMetric(s.desc, valueType, s.value, s.labelValues...)
		if err != nil {
			continue
		}
		ch <- m
	}
}

func classify(v telemetry.Value) (seriesKind, float64) {
	switch v.Kind {
	case telemetry.KindCounter:
		return kindCounter, float64(v.Counter)
	case telemetry.KindBool:
		if v.Bool {
			return kindGauge, 1
		}
		return kindGauge, 0
	case telemetry.KindText:
		return kindInfo, 1
	default: // KindGauge
		return kindGauge, v.Gauge
	}
}

func mergeLabels(defaults map[string]string, source string, point map[string]string, kind seriesKind, text string) map[string]string {
	out := make(map[string]string, len(defaults)+len(point)+2)
	for k, v := range defaults {
		out[k] = v
	}
	out["source"] = source
	for k, v := range point {
		out[k] = v
	}
	if kind == kindInfo {
		out["value"] = text
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fingerprint(names, values []string) string {
	var b strings.Builder
	for i, n := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(values[i])
	}
	return b.String()
}
