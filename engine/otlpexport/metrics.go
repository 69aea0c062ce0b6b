package otlpexport

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/logging"
	"github.com/99souls/zensight/engine/telemetry"
	"github.com/99souls/zensight/engine/zerr"
)

// metricSender is the subset of sdkmetric.Exporter this package drives
// directly, bypassing the SDK's PeriodicReader so flush timing can follow
// the size-or-interval trigger spec §4.8 requires instead of a fixed cadence.
type metricSender interface {
	Export(ctx context.Context, rm *metricdata.ResourceMetrics) error
	Shutdown(ctx context.Context) error
}

func newMetricSender(cfg config.OTLPConfig) (metricSender, error) {
	ctx := context.Background()
	switch cfg.Protocol {
	case config.OTLPHTTP:
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure()}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlpmetrichttp.WithHeaders(cfg.Headers))
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure()}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlpmetricgrpc.WithHeaders(cfg.Headers))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	}
}

// MetricPipeline batches counter/gauge/boolean points and flushes them to an
// OTLP metrics endpoint (spec §4.8).
type MetricPipeline struct {
	sender   metricSender
	resource *metricdataResource
	batcher  *batcher
	interval time.Duration
	timeout  time.Duration
	retry    *retryPolicy
	log      logging.Logger

	flush chan struct{}
	stop  chan struct{}
}

// NewMetricPipeline builds a pipeline from the bridge's `opentelemetry.*`
// configuration block.
func NewMetricPipeline(cfg config.OTLPConfig, startTime time.Time, log logging.Logger) (*MetricPipeline, error) {
	sender, err := newMetricSender(cfg)
	if err != nil {
		return nil, zerr.Transportf(true, "otlpexport: building metric exporter: %w", err)
	}
	interval := time.Duration(cfg.ExportIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	if log == nil {
		log = logging.New(nil)
	}

	return &MetricPipeline{
		sender:   sender,
		resource: newMetricdataResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Resource),
		batcher:  newBatcher(batchSize, startTime),
		interval: interval,
		timeout:  timeout,
		retry:    newRetryPolicy(),
		log:      log,
		flush:    make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}, nil
}

// Ingest maps and buffers one counter/gauge/boolean point (text and binary
// are not metrics and are ignored here — see LogPipeline for syslog text).
func (p *MetricPipeline) Ingest(point *telemetry.TelemetryPoint, now time.Time) {
	kind, v, ok := classifyMetric(point.Value)
	if !ok {
		return
	}
	resourceAttrs := bucketResourceAttrs(point.Source, string(point.Protocol))
	attrs := map[string]string{"source": point.Source}
	for k, val := range point.Labels {
		attrs[k] = val
	}
	name := instrumentName(string(point.Protocol), point.Metric)

	full := p.batcher.Ingest(resourceAttrs, name, kind, attrs, v, now)
	if full {
		select {
		case p.flush <- struct{}{}:
		default:
		}
	}
}

// Run drives the flush loop until ctx is cancelled: flush on every interval
// tick, or immediately when the series buffered across all buckets reach
// batch_size.
func (p *MetricPipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.flushNow(context.Background())
			return
		case <-ticker.C:
			p.flushNow(ctx)
		case <-p.flush:
			p.flushNow(ctx)
		}
	}
}

func (p *MetricPipeline) flushNow(ctx context.Context) {
	buckets := p.batcher.Drain()
	for _, bkt := range buckets {
		rm := bkt.toResourceMetrics(p.resource)
		sendCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := p.retry.send(sendCtx, func(c context.Context) error { return p.sender.Export(c, rm) })
		cancel()
		if err != nil {
			p.log.ErrorCtx(context.Background(), "otlpexport: dropping metric batch", "error", err, "series", len(bkt.series))
		}
	}
}

// Shutdown flushes any remaining batches and closes the exporter.
func (p *MetricPipeline) Shutdown(ctx context.Context) error {
	p.flushNow(ctx)
	return p.sender.Shutdown(ctx)
}
