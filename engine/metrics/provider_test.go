package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusProviderRegistersCounter(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Namespace: "zensight", Subsystem: "bridge", Name: "polls_total", Help: "test"}})
	c.Inc(3)
	c.Inc(2)

	value := testutil.ToFloat64(p.counters["zensight_bridge_polls_total"])
	assert.Equal(t, float64(5), value)
}

func TestPrometheusProviderRejectsBadName(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Name: "bad name"}})
	// invalid name falls back to the noop instrument; Inc must not panic.
	c.Inc(1)
}

func TestNoopProviderDiscardsObservations(t *testing.T) {
	p := NewNoopProvider()
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Name: "x"}})
	g := p.NewGauge(GaugeOpts{CommonOpts: CommonOpts{Name: "y"}})
	h := p.NewHistogram(HistogramOpts{CommonOpts: CommonOpts{Name: "z"}})
	c.Inc(1)
	g.Set(1)
	h.Observe(1)
	assert.NoError(t, p.Health(nil))
}

func TestOTelProviderBuildsInstruments(t *testing.T) {
	p := NewOTelProvider(OTelProviderOptions{})
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Namespace: "zensight", Name: "test_counter"}})
	c.Inc(1, "label")
	g := p.NewGauge(GaugeOpts{CommonOpts: CommonOpts{Namespace: "zensight", Name: "test_gauge"}})
	g.Set(42)
	timer := p.NewTimer(HistogramOpts{CommonOpts: CommonOpts{Namespace: "zensight", Name: "test_timer"}})
	timer().ObserveDuration()
}
