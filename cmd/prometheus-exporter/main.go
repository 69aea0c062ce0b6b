// Command prometheus-exporter subscribes to the shared telemetry fabric and
// exposes the running aggregate as a Prometheus scrape endpoint (spec
// §4.7, §6).
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/99souls/zensight/engine/bus"
	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/logging"
	"github.com/99souls/zensight/engine/promexport"
	"github.com/99souls/zensight/engine/subscriber"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath, logLevel := parseFlags()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("prometheus-exporter: %v", err)
		return 1
	}
	if cfg.Prometheus == nil {
		log.Printf("prometheus-exporter: config has no prometheus block configured")
		return 1
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.NewFromLevel(level)

	conn, err := bus.Connect(cfg.Zenoh, "prometheus-exporter")
	if err != nil {
		log.Printf("prometheus-exporter: %v", err)
		return 2
	}
	defer conn.Close()

	sub, err := subscriber.New(conn, bus.SubscriberConfig{}, logger)
	if err != nil {
		log.Printf("prometheus-exporter: %v", err)
		return 2
	}
	defer sub.Stop()

	agg := promexport.New(*cfg.Prometheus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Printf("prometheus-exporter: signal received, shutting down")
		cancel()
		<-sigCh
		log.Printf("prometheus-exporter: second signal received, forcing exit")
		os.Exit(1)
	}()

	go agg.SweepLoop(ctx)
	go ingestLoop(ctx, sub, agg, logger)
	go watchConfig(ctx, configPath, logger)

	mux := http.NewServeMux()
	mux.Handle(cfg.Prometheus.Path, agg.Handler())
	mux.HandleFunc("/health", agg.HealthHandler())
	mux.HandleFunc("/ready", agg.ReadyHandler())
	srv := &http.Server{Addr: cfg.Prometheus.Listen, Handler: mux}

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		_ = srv.Shutdown(context.Background())
		return 0
	case err := <-srvErr:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("prometheus-exporter: %v", err)
			return 3
		}
		return 0
	}
}

// ingestLoop feeds decoded points into the aggregator and logs the
// decode-error and liveness streams the caller is otherwise obligated to
// drain (spec §4.6: consumers must not let these channels back up).
func ingestLoop(ctx context.Context, sub *subscriber.Subscriber, agg *promexport.Aggregator, logger logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case point, ok := <-sub.Points():
			if !ok {
				return
			}
			if err := agg.Ingest(point); err != nil {
				logger.WarnCtx(ctx, "prometheus-exporter: ingest rejected point", "err", err)
			}
		case err, ok := <-sub.DecodeErrors():
			if !ok {
				continue
			}
			logger.WarnCtx(ctx, "prometheus-exporter: decode error", "err", err)
		case msg, ok := <-sub.Messages():
			if !ok {
				continue
			}
			logger.DebugCtx(ctx, "prometheus-exporter: liveness event", "kind", msg.Kind.String(), "bridge", msg.Bridge, "device", msg.Device)
		}
	}
}

func parseFlags() (configPath, logLevel string) {
	flag.StringVar(&configPath, "config", "", "Path to the exporter configuration file (required)")
	flag.StringVar(&logLevel, "log-level", "", "Override logging.level from the config file (debug|info|warn|error)")
	flag.Parse()
	if configPath == "" {
		log.Printf("prometheus-exporter: -config is required")
		os.Exit(1)
	}
	return configPath, logLevel
}

// watchConfig surfaces config file edits on stdout. The aggregation/filter
// fields it would otherwise react to are bound into the Aggregator at
// construction time, so a change here is a restart-required signal rather
// than something this process can apply live.
func watchConfig(ctx context.Context, configPath string, logger logging.Logger) {
	reloader, err := config.NewHotReloader(configPath)
	if err != nil {
		logger.WarnCtx(ctx, "prometheus-exporter: config watch disabled", "err", err)
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
			logger.WarnCtx(ctx, "prometheus-exporter: config file changed, restart to apply", "checksum", change.Checksum)
		case err, ok := <-errs:
			if !ok {
				continue
			}
			logger.WarnCtx(ctx, "prometheus-exporter: config reload failed", "err", err)
		}
	}
}
