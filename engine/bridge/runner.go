package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/99souls/zensight/engine/bus"
	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/events"
	"github.com/99souls/zensight/engine/logging"
	"github.com/99souls/zensight/engine/telemetry"
)

// Config configures one Runner — one OS process's worth of adapter tasks
// sharing a transport connection, liveness manager, and health reporter
// (spec §4.1).
type Config struct {
	Bridge         string
	Protocol       telemetry.Protocol
	Format         telemetry.WireFormat
	Liveness       config.LivenessConfig
	HealthEvery    time.Duration // default 15s
	HeartbeatEvery time.Duration // default 500ms, forwarded to bus.Publisher
}

func (c *Config) applyDefaults() {
	if c.HealthEvery <= 0 {
		c.HealthEvery = 15 * time.Second
	}
}

type namedAdapter struct {
	name string
	fn   AdapterFunc
}

// Runner is the builder's product: a running set of adapter tasks sharing
// one publisher, liveness manager, and health reporter, torn down together
// on Stop (spec §4.1's "handle whose lifecycle is tied to a graceful
// shutdown signal").
type Runner struct {
	cfg  Config
	log  logging.Logger
	conn *nats.Conn

	pub      *bus.Publisher
	liveness *livenessManager
	health   *healthReporter
	events   events.Bus

	adapters []namedAdapter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// NewRunner builds a Runner: constructs the Advanced Publisher and
// liveness manager bound to conn, and a health reporter driven by the
// configured thresholds.
func NewRunner(conn *nats.Conn, cfg Config, log logging.Logger) (*Runner, error) {
	cfg.applyDefaults()
	if log == nil {
		log = logging.New(nil)
	}
	pub, err := bus.NewPublisher(conn, bus.PublisherConfig{
		Bridge:         cfg.Bridge,
		Format:         cfg.Format,
		HeartbeatEvery: cfg.HeartbeatEvery,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: construct publisher: %w", err)
	}
	lm := newLivenessManager(conn, cfg.Bridge, cfg.Protocol, cfg.Format, cfg.HeartbeatEvery)
	hr := newHealthReporter(cfg.Liveness, lm)

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:      cfg,
		log:      log,
		conn:     conn,
		pub:      pub,
		liveness: lm,
		health:   hr,
		events:   events.NewBus(nil),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Events returns the in-process event bus carrying this Runner's
// bridge/health/error notices, for local observers such as a CLI status
// line that don't want to round-trip through the pub/sub fabric.
func (r *Runner) Events() events.Bus { return r.events }

// UpdateLiveness swaps the degraded/offline thresholds RecordSuccess/
// RecordFailure evaluate against, letting a config hot-reload take effect
// without restarting the bridge.
func (r *Runner) UpdateLiveness(cfg config.LivenessConfig) {
	r.health.updateConfig(cfg)
	_ = r.events.Publish(events.Event{
		Category: events.CategoryConfig,
		Type:     "liveness_thresholds",
		Labels:   map[string]string{"bridge": r.cfg.Bridge},
	})
}

// AddAdapter registers an adapter task to be started by Start. Calling
// AddAdapter after Start has no effect on already-running adapters.
func (r *Runner) AddAdapter(name string, fn AdapterFunc) {
	r.adapters = append(r.adapters, namedAdapter{name: name, fn: fn})
}

// Start launches every registered adapter under panic isolation and begins
// the periodic HealthSnapshot publication loop. It returns immediately;
// adapters run until ctx or the Runner is stopped.
func (r *Runner) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			r.cancel()
		case <-r.ctx.Done():
		}
	}()

	for _, a := range r.adapters {
		r.wg.Add(1)
		go r.runAdapter(a)
	}
	r.wg.Add(1)
	go r.healthLoop()
}

// runAdapter executes one adapter's task body, converting a panic into an
// ErrorReport rather than crashing the process (spec §4.1). A panicking or
// erroring adapter is not auto-restarted; the bridge keeps running its
// other adapters.
func (r *Runner) runAdapter(a namedAdapter) {
	defer r.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			r.reportError(telemetry.ErrorReport{
				Timestamp: telemetry.NowMs(),
				ErrorType: telemetry.ErrOther,
				Message:   fmt.Sprintf("adapter %q panicked: %v", a.name, rec),
				Retryable: false,
			})
		}
	}()
	if err := a.fn(r.ctx, publisherHandle{pub: r.pub, conn: r.conn, protocol: r.cfg.Protocol}, r.health, r.liveness); err != nil && r.ctx.Err() == nil {
		r.reportError(telemetry.ErrorReport{
			Timestamp: telemetry.NowMs(),
			ErrorType: telemetry.ErrOther,
			Message:   fmt.Sprintf("adapter %q exited: %v", a.name, err),
			Retryable: false,
		})
	}
}

func (r *Runner) reportError(rep telemetry.ErrorReport) {
	_ = r.events.Publish(events.Event{
		Category: events.CategoryError,
		Type:     string(rep.ErrorType),
		Labels:   map[string]string{"bridge": r.cfg.Bridge},
		Fields:   map[string]any{"message": rep.Message, "retryable": rep.Retryable},
	})
	data, err := telemetry.EncodeErrorReport(&rep, r.cfg.Format)
	if err != nil {
		return
	}
	_ = r.conn.Publish(bus.ToSubject(telemetry.ErrorsKey(r.cfg.Protocol)), data)
}

// healthLoop publishes the bridge's HealthSnapshot every HealthEvery.
func (r *Runner) healthLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.HealthEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.publishHealth()
		}
	}
}

func (r *Runner) publishHealth() {
	snap := r.health.Snapshot(r.cfg.Bridge)
	_ = r.events.Publish(events.Event{
		Category: events.CategoryHealth,
		Type:     string(snap.Status),
		Labels:   map[string]string{"bridge": r.cfg.Bridge},
		Fields: map[string]any{
			"devices_total":      snap.DevicesTotal,
			"devices_responding": snap.DevicesResponding,
			"devices_failed":     snap.DevicesFailed,
		},
	})
	data, err := telemetry.EncodeHealth(&snap, r.cfg.Format)
	if err != nil {
		return
	}
	_ = r.conn.Publish(bus.ToSubject(telemetry.HealthKey(r.cfg.Protocol)), data)
}

// Health returns the current HealthSnapshot without waiting for the next
// periodic publication.
func (r *Runner) Health() telemetry.HealthSnapshot {
	return r.health.Snapshot(r.cfg.Bridge)
}

// Stop cancels every adapter, waits for them to exit, then tears down the
// liveness tokens and publisher.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		r.wg.Wait()
		r.liveness.Stop()
		r.pub.Stop()
	})
}

// publisherHandle adapts *bus.Publisher to the adapter-facing
// PublisherHandle interface, which reports only an error (outcome
// classification is an internal/health concern, not an adapter one).
type publisherHandle struct {
	pub      *bus.Publisher
	conn     *nats.Conn
	protocol telemetry.Protocol
}

func (h publisherHandle) Publish(ctx context.Context, point *telemetry.TelemetryPoint) error {
	_, err := h.pub.Publish(ctx, point)
	return err
}

func (h publisherHandle) Correlate(_ context.Context, ip, source string) error {
	if ip == "" {
		return nil
	}
	return bus.PublishCorrelation(h.conn, bus.CorrelationRecord{Protocol: h.protocol, Source: source, IP: ip})
}
