package otlpexport

import (
	"context"
	"strconv"
	"sync"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/logging"
	"github.com/99souls/zensight/engine/telemetry"
	"github.com/99souls/zensight/engine/zerr"
)

// severityFor maps a numeric syslog severity (0-7) to an OTel log severity
// (spec §4.8: "0,1,2→FATAL; 3→ERROR; 4→WARN; 5,6→INFO; 7→DEBUG").
func severityFor(raw string) otellog.Severity {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return otellog.SeverityInfo
	}
	switch {
	case n <= 2:
		return otellog.SeverityFatal
	case n == 3:
		return otellog.SeverityError
	case n == 4:
		return otellog.SeverityWarn
	case n == 5, n == 6:
		return otellog.SeverityInfo
	default:
		return otellog.SeverityDebug
	}
}

// retryingLogExporter wraps a real sdklog.Exporter, applying the shared
// backoff policy to every Export call the batch processor makes (spec
// §4.8's retry policy, applied uniformly across both signals).
type retryingLogExporter struct {
	inner sdklog.Exporter
	retry *retryPolicy
}

func (e *retryingLogExporter) Export(ctx context.Context, records []sdklog.Record) error {
	return e.retry.send(ctx, func(c context.Context) error { return e.inner.Export(c, records) })
}

func (e *retryingLogExporter) Shutdown(ctx context.Context) error   { return e.inner.Shutdown(ctx) }
func (e *retryingLogExporter) ForceFlush(ctx context.Context) error { return e.inner.ForceFlush(ctx) }

func newLogExporter(cfg config.OTLPConfig) (sdklog.Exporter, error) {
	ctx := context.Background()
	switch cfg.Protocol {
	case config.OTLPHTTP:
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint), otlploghttp.WithInsecure()}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlploghttp.WithHeaders(cfg.Headers))
		}
		return otlploghttp.New(ctx, opts...)
	default:
		opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.Endpoint), otlploggrpc.WithInsecure()}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlploggrpc.WithHeaders(cfg.Headers))
		}
		return otlploggrpc.New(ctx, opts...)
	}
}

// LogPipeline maps syslog text points into OTLP LogRecords (spec §4.8). One
// LoggerProvider is kept per device (mirrors the OTel resource model, which
// ties one fixed Resource to one provider, against device.id varying per
// point) but all providers share one batch processor and exporter.
type LogPipeline struct {
	cfg       config.OTLPConfig
	resource  *metricdataResource
	processor sdklog.Processor
	exporter  sdklog.Exporter

	mu       sync.Mutex
	loggers  map[string]otellog.Logger
	providers []*sdklog.LoggerProvider
}

// NewLogPipeline builds a log pipeline from the bridge's `opentelemetry.*`
// configuration block.
func NewLogPipeline(cfg config.OTLPConfig) (*LogPipeline, error) {
	raw, err := newLogExporter(cfg)
	if err != nil {
		return nil, zerr.Transportf(true, "otlpexport: building log exporter: %w", err)
	}
	exporter := &retryingLogExporter{inner: raw, retry: newRetryPolicy()}

	interval := time.Duration(cfg.ExportIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	processor := sdklog.NewBatchProcessor(exporter,
		sdklog.WithExportInterval(interval),
		sdklog.WithExportMaxBatchSize(batchSize),
	)

	return &LogPipeline{
		cfg:       cfg,
		resource:  newMetricdataResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Resource),
		processor: processor,
		exporter:  exporter,
		loggers:   make(map[string]otellog.Logger),
	}, nil
}

func (p *LogPipeline) loggerFor(source string) otellog.Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.loggers[source]; ok {
		return l
	}
	res := p.resource.forAttributes(bucketResourceAttrs(source, string(telemetry.ProtocolSyslog)))
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(p.processor),
		sdklog.WithResource(res),
	)
	p.providers = append(p.providers, provider)
	l := provider.Logger("zensight/otlpexport")
	p.loggers[source] = l
	return l
}

// Ingest maps one syslog text point to a LogRecord and emits it (spec
// §4.8). exportText, when true, also emits text points from non-syslog
// protocols at INFO severity. Non-text values are ignored here.
func (p *LogPipeline) Ingest(ctx context.Context, point *telemetry.TelemetryPoint) {
	if point.Value.Kind != telemetry.KindText {
		return
	}
	isSyslog := point.Protocol == telemetry.ProtocolSyslog
	if !isSyslog && !p.cfg.ExportText {
		return
	}

	var rec otellog.Record
	rec.SetTimestamp(time.UnixMilli(point.Timestamp))
	rec.SetBody(otellog.StringValue(point.Value.Text))

	if isSyslog {
		rec.SetSeverity(severityFor(point.Labels["severity"]))
		rec.AddAttributes(
			otellog.String("syslog.facility", point.Labels["facility"]),
			otellog.String("syslog.appname", point.Labels["appname"]),
			otellog.String("syslog.hostname", point.Source),
		)
	} else {
		rec.SetSeverity(otellog.SeverityInfo)
	}

	p.loggerFor(point.Source).Emit(ctx, rec)
}

// Shutdown flushes pending records and tears down every per-device provider.
func (p *LogPipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.processor.ForceFlush(ctx)
	var firstErr error
	for _, provider := range p.providers {
		if err := provider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
