package otlpexport

import (
	"context"
	"time"

	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/logging"
	"github.com/99souls/zensight/engine/telemetry"
)

// Pipeline is the OTLP batch exporter of spec §4.8: it fans a telemetry
// stream out to a metric pipeline (counter/gauge/boolean → Sum/Gauge) and,
// when syslog text is present, a log pipeline (text → LogRecord).
type Pipeline struct {
	metrics *MetricPipeline
	logs    *LogPipeline // nil when export_logs is false
}

// New builds a Pipeline from the bridge's `opentelemetry.*` configuration
// block. startTime anchors every Sum's cumulative start-time (spec §4.8:
// "start-time = exporter start").
func New(cfg config.OTLPConfig, startTime time.Time, log logging.Logger) (*Pipeline, error) {
	p := &Pipeline{}
	if cfg.ExportMetrics {
		mp, err := NewMetricPipeline(cfg, startTime, log)
		if err != nil {
			return nil, err
		}
		p.metrics = mp
	}
	if cfg.ExportLogs {
		lp, err := NewLogPipeline(cfg)
		if err != nil {
			return nil, err
		}
		p.logs = lp
	}
	return p, nil
}

// Ingest routes one telemetry point to whichever pipeline(s) its value kind
// maps to.
func (p *Pipeline) Ingest(ctx context.Context, point *telemetry.TelemetryPoint, now time.Time) {
	if point.Value.Kind == telemetry.KindBinary {
		return
	}
	if point.Value.Kind == telemetry.KindText {
		if p.logs != nil {
			p.logs.Ingest(ctx, point)
		}
		return
	}
	if p.metrics != nil {
		p.metrics.Ingest(point, now)
	}
}

// Run drives the metric flush loop until ctx is cancelled. Log flushing is
// owned by the underlying sdklog.BatchProcessor and needs no driver loop.
func (p *Pipeline) Run(ctx context.Context) {
	if p.metrics != nil {
		p.metrics.Run(ctx)
	} else {
		<-ctx.Done()
	}
}

// Shutdown flushes and closes both pipelines.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	var firstErr error
	if p.metrics != nil {
		if err := p.metrics.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.logs != nil {
		if err := p.logs.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
