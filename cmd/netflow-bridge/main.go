// Command netflow-bridge listens for NetFlow v5/v9 and IPFIX exports and
// publishes decoded flow records onto the shared telemetry fabric (spec
// §4.2, §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/99souls/zensight/engine/bridge"
	"github.com/99souls/zensight/engine/bus"
	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/logging"
	"github.com/99souls/zensight/engine/netflow"
	"github.com/99souls/zensight/engine/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath, logLevel := parseFlags()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("netflow-bridge: %v", err)
		return 1
	}
	if cfg.Netflow == nil || len(cfg.Netflow.Listeners) == 0 {
		log.Printf("netflow-bridge: config has no netflow.listeners configured")
		return 1
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.NewFromLevel(level)

	conn, err := bus.Connect(cfg.Zenoh, "netflow-bridge")
	if err != nil {
		log.Printf("netflow-bridge: %v", err)
		return 2
	}
	defer conn.Close()

	format := telemetry.WireFormat(cfg.Serialization)
	if format == "" {
		format = telemetry.FormatJSON
	}
	runner, err := bridge.NewRunner(conn, bridge.Config{
		Bridge:   "netflow-bridge",
		Protocol: telemetry.ProtocolNetflow,
		Format:   format,
		Liveness: cfg.Liveness,
	}, logger)
	if err != nil {
		log.Printf("netflow-bridge: %v", err)
		return 2
	}

	for i, listener := range cfg.Netflow.Listeners {
		receiver := netflow.NewReceiver(listener, *cfg.Netflow, logger.With("listener", listener.Bind))
		runner.AddAdapter(fmt.Sprintf("listen/%d/%s", i, listener.Bind), receiver.Adapter())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Printf("netflow-bridge: signal received, shutting down")
		cancel()
		<-sigCh
		log.Printf("netflow-bridge: second signal received, forcing exit")
		os.Exit(1)
	}()

	go statusLine(ctx, runner, logger)
	go watchConfig(ctx, configPath, runner, logger)

	runner.Start(ctx)
	<-ctx.Done()
	runner.Stop()
	return 0
}

// watchConfig hot-reloads the liveness thresholds from configPath without
// restarting the bridge (spec §6's config schema names thresholds an
// operator tunes in place).
func watchConfig(ctx context.Context, configPath string, runner *bridge.Runner, logger logging.Logger) {
	reloader, err := config.NewHotReloader(configPath)
	if err != nil {
		logger.WarnCtx(ctx, "netflow-bridge: config watch disabled", "err", err)
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
			runner.UpdateLiveness(change.Config.Liveness)
			logger.InfoCtx(ctx, "netflow-bridge: config reloaded", "checksum", change.Checksum)
		case err, ok := <-errs:
			if !ok {
				continue
			}
			logger.WarnCtx(ctx, "netflow-bridge: config reload failed", "err", err)
		}
	}
}

// statusLine drains the runner's in-process event bus and logs each
// bridge/health/error notice, giving an operator watching stdout the same
// picture the fabric-side health/error subjects carry.
func statusLine(ctx context.Context, runner *bridge.Runner, logger logging.Logger) {
	sub, err := runner.Events().Subscribe(32)
	if err != nil {
		return
	}
	defer func() { _ = sub.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			logger.InfoCtx(ctx, "status", "category", ev.Category, "type", ev.Type, "fields", ev.Fields)
		}
	}
}

func parseFlags() (configPath, logLevel string) {
	flag.StringVar(&configPath, "config", "", "Path to the bridge configuration file (required)")
	flag.StringVar(&logLevel, "log-level", "", "Override logging.level from the config file (debug|info|warn|error)")
	flag.Parse()
	if configPath == "" {
		log.Printf("netflow-bridge: -config is required")
		os.Exit(1)
	}
	return configPath, logLevel
}
