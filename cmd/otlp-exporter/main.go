// Command otlp-exporter subscribes to the shared telemetry fabric and
// forwards it to an OpenTelemetry collector as metrics and logs (spec
// §4.8, §6).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/99souls/zensight/engine/bus"
	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/logging"
	"github.com/99souls/zensight/engine/otlpexport"
	"github.com/99souls/zensight/engine/subscriber"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath, logLevel := parseFlags()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("otlp-exporter: %v", err)
		return 1
	}
	if cfg.OpenTelemetry == nil {
		log.Printf("otlp-exporter: config has no opentelemetry block configured")
		return 1
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.NewFromLevel(level)

	conn, err := bus.Connect(cfg.Zenoh, "otlp-exporter")
	if err != nil {
		log.Printf("otlp-exporter: %v", err)
		return 2
	}
	defer conn.Close()

	sub, err := subscriber.New(conn, bus.SubscriberConfig{}, logger)
	if err != nil {
		log.Printf("otlp-exporter: %v", err)
		return 2
	}
	defer sub.Stop()

	pipeline, err := otlpexport.New(*cfg.OpenTelemetry, time.Now(), logger)
	if err != nil {
		log.Printf("otlp-exporter: %v", err)
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Printf("otlp-exporter: signal received, shutting down")
		cancel()
		<-sigCh
		log.Printf("otlp-exporter: second signal received, forcing exit")
		os.Exit(1)
	}()

	go ingestLoop(ctx, sub, pipeline, logger)
	go watchConfig(ctx, configPath, logger)

	pipeline.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		log.Printf("otlp-exporter: shutdown: %v", err)
		return 3
	}
	return 0
}

func ingestLoop(ctx context.Context, sub *subscriber.Subscriber, pipeline *otlpexport.Pipeline, logger logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case point, ok := <-sub.Points():
			if !ok {
				return
			}
			pipeline.Ingest(ctx, point, time.Now())
		case err, ok := <-sub.DecodeErrors():
			if !ok {
				continue
			}
			logger.WarnCtx(ctx, "otlp-exporter: decode error", "err", err)
		case msg, ok := <-sub.Messages():
			if !ok {
				continue
			}
			logger.DebugCtx(ctx, "otlp-exporter: liveness event", "kind", msg.Kind.String(), "bridge", msg.Bridge, "device", msg.Device)
		}
	}
}

func parseFlags() (configPath, logLevel string) {
	flag.StringVar(&configPath, "config", "", "Path to the exporter configuration file (required)")
	flag.StringVar(&logLevel, "log-level", "", "Override logging.level from the config file (debug|info|warn|error)")
	flag.Parse()
	if configPath == "" {
		log.Printf("otlp-exporter: -config is required")
		os.Exit(1)
	}
	return configPath, logLevel
}

// watchConfig surfaces config file edits on stdout. The OTLP pipeline's
// endpoint/export settings are bound at construction time, so a change
// here is a restart-required signal rather than something this process
// can apply live.
func watchConfig(ctx context.Context, configPath string, logger logging.Logger) {
	reloader, err := config.NewHotReloader(configPath)
	if err != nil {
		logger.WarnCtx(ctx, "otlp-exporter: config watch disabled", "err", err)
		return
	}
	defer func() { _ = reloader.Stop() }()
	changes, errs := reloader.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			logger.WarnCtx(ctx, "otlp-exporter: config file changed, restart to apply", "checksum", change.Checksum)
		case err, ok := <-errs:
			if !ok {
				continue
			}
			logger.WarnCtx(ctx, "otlp-exporter: config reload failed", "err", err)
		}
	}
}
