// Command snmp-bridge polls configured SNMP devices and optionally listens
// for SNMP traps, publishing everything onto the shared telemetry fabric
// (spec §4.2, §6).
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
	"github.com/99souls/zensight/engine/snmp"
	"github.com/99souls/zensight/engine/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath, logLevel := parseFlags()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("snmp-bridge: %v", err)
		return 1
	}
	if cfg.SNMP == nil || len(cfg.SNMP.Devices) == 0 {
		log.Printf("snmp-bridge: config has no snmp.devices configured")
		return 1
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.NewFromLevel(level)

	conn, err := bus.Connect(cfg.Zenoh, "snmp-bridge")
	if err != nil {
		log.Printf("snmp-bridge: %v", err)
		return 2
	}
	defer conn.Close()

	format := telemetry.WireFormat(cfg.Serialization)
	if format == "" {
		format = telemetry.FormatJSON
	}
	runner, err := bridge.NewRunner(conn, bridge.Config{
		Bridge:   "snmp-bridge",
		Protocol: telemetry.ProtocolSNMP,
		Format:   format,
		Liveness: cfg.Liveness,
	}, logger)
	if err != nil {
		log.Printf("snmp-bridge: %v", err)
		return 2
	}

	bridgeNames := cfg.SNMP.OIDNames
	for _, device := range cfg.SNMP.Devices {
		poller := snmp.NewPoller(device, bridgeNames, logger.With("device", device.Name))
		runner.AddAdapter(fmt.Sprintf("poll/%s", device.Name), poller.Adapter())
	}
	if cfg.SNMP.TrapListener.Enabled {
		traps := snmp.NewTrapReceiver(cfg.SNMP.TrapListener, cfg.SNMP.Devices, bridgeNames, logger.With("device", "traps"))
		runner.AddAdapter("traps", traps.Adapter())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Printf("snmp-bridge: signal received, shutting down")
		cancel()
		<-sigCh
		log.Printf("snmp-bridge: second signal received, forcing exit")
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
		logger.WarnCtx(ctx, "snmp-bridge: config watch disabled", "err", err)
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
			logger.InfoCtx(ctx, "snmp-bridge: config reloaded", "checksum", change.Checksum)
		case err, ok := <-errs:
			if !ok {
				continue
			}
			logger.WarnCtx(ctx, "snmp-bridge: config reload failed", "err", err)
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
		log.Printf("snmp-bridge: -config is required")
		os.Exit(1)
	}
	return configPath, logLevel
}
