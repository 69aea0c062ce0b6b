// Package otlpexport implements the OTLP batch exporter (spec §4.8): points
// are bucketed by (resource attributes, instrument kind), flushed on a timer
// or once the series buffered across all buckets reach batch_size, and shipped over gRPC or HTTP with a bounded,
// jittered retry policy that tells transient failures from permanent ones.
//
// The spec's batching and retry semantics are deliberately not what the
// OTel SDK's PeriodicReader gives you for free, so this package calls the
// low-level otlpmetricgrpc/otlpmetrichttp Exporter.Export method directly
// from its own flush loop instead of wiring a MeterProvider — the same
// shape engine/bus/publisher.go uses for its own retry-with-backoff send
// path, generalized from a telemetry publisher to an OTLP batch sender.
package otlpexport

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/99souls/zensight/engine/telemetry"
)

type instrumentKind int

const (
	instrumentSum instrumentKind = iota
	instrumentGauge
)

// bucketKey identifies one (resource attributes, instrument kind) bucket.
type bucketKey struct {
	resourceFP string
	kind       instrumentKind
}

// seriesKey identifies one metric stream within a bucket: a name plus its
// attribute set.
type seriesKey struct {
	name string
	attrFP string
}

type seriesState struct {
	name       string
	attrs      []attrPair
	kind       instrumentKind
	value      float64
	startTime  time.Time
	lastUpdate time.Time
}

type attrPair struct{ key, value string }

// bucket accumulates series for one resource/kind pair until it is flushed.
type bucket struct {
	resource map[string]string
	kind     instrumentKind
	series   map[seriesKey]*seriesState
}

// batcher is the in-memory aggregation stage of the pipeline: Ingest folds a
// point in, Drain returns (and clears) every bucket ready to ship.
type batcher struct {
	mu        sync.Mutex
	buckets   map[bucketKey]*bucket
	size      int
	batchSize int
	startTime time.Time
}

func newBatcher(batchSize int, startTime time.Time) *batcher {
	return &batcher{
		buckets:   make(map[bucketKey]*bucket),
		batchSize: batchSize,
		startTime: startTime,
	}
}

// Ingest folds one mapped metric point into its bucket. It reports whether
// the batcher has reached batch_size and should be drained immediately.
func (b *batcher) Ingest(resource map[string]string, name string, kind instrumentKind, attrs map[string]string, value float64, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	resFP := fingerprintMap(resource)
	bk := bucketKey{resourceFP: resFP, kind: kind}
	bkt, ok := b.buckets[bk]
	if !ok {
		bkt = &bucket{resource: resource, kind: kind, series: make(map[seriesKey]*seriesState)}
		b.buckets[bk] = bkt
	}

	attrFP := fingerprintMap(attrs)
	sk := seriesKey{name: name, attrFP: attrFP}
	st, ok := bkt.series[sk]
	if !ok {
		st = &seriesState{name: name, attrs: sortedPairs(attrs), kind: kind, startTime: b.startTime}
		bkt.series[sk] = st
		b.size++
	}
	st.value = value
	st.lastUpdate = now

	return b.size >= b.batchSize
}

// Drain removes and returns every accumulated bucket.
func (b *batcher) Drain() []*bucket {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*bucket, 0, len(b.buckets))
	for _, bkt := range b.buckets {
		out = append(out, bkt)
	}
	b.buckets = make(map[bucketKey]*bucket)
	b.size = 0
	return out
}

// Len reports the number of distinct series currently buffered.
func (b *batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func fingerprintMap(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(m[k])
	}
	return sb.String()
}

func sortedPairs(m map[string]string) []attrPair {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]attrPair, len(keys))
	for i, k := range keys {
		pairs[i] = attrPair{key: k, value: m[k]}
	}
	return pairs
}

// classifyMetric maps a telemetry value to (instrument kind, numeric value),
// ok=false for values that don't produce a metric (spec §4.8 signal mapping).
func classifyMetric(v telemetry.Value) (kind instrumentKind, value float64, ok bool) {
	switch v.Kind {
	case telemetry.KindCounter:
		return instrumentSum, float64(v.Counter), true
	case telemetry.KindGauge:
		return instrumentGauge, v.Gauge, true
	case telemetry.KindBool:
		if v.Bool {
			return instrumentGauge, 1, true
		}
		return instrumentGauge, 0, true
	default:
		return 0, 0, false
	}
}

// toResourceMetrics renders one bucket's series as a metricdata.ResourceMetrics
// ready for Exporter.Export.
func (bkt *bucket) toResourceMetrics(res *metricdataResource) *metricdata.ResourceMetrics {
	metrics := make([]metricdata.Metrics, 0, len(bkt.series))
	for _, st := range bkt.series {
		attrs := attributeSet(st.attrs)
		switch bkt.kind {
		case instrumentSum:
			metrics = append(metrics, metricdata.Metrics{
				Name: st.name,
				Data: metricdata.Sum[float64]{
					DataPoints: []metricdata.DataPoint[float64]{{
						Attributes: attrs,
						StartTime:  st.startTime,
						Time:       st.lastUpdate,
						Value:      st.value,
					}},
					Temporality: metricdata.CumulativeTemporality,
					IsMonotonic: true,
				},
			})
		case instrumentGauge:
			metrics = append(metrics, metricdata.Metrics{
				Name: st.name,
				Data: metricdata.Gauge[float64]{
					DataPoints: []metricdata.DataPoint[float64]{{
						Attributes: attrs,
						StartTime:  st.startTime,
						Time:       st.lastUpdate,
						Value:      st.value,
					}},
				},
			})
		}
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })

	return &metricdata.ResourceMetrics{
		Resource: res.forAttributes(bkt.resource),
		ScopeMetrics: []metricdata.ScopeMetrics{{
			Metrics: metrics,
		}},
	}
}
