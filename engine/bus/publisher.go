package bus

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/99souls/zensight/engine/metrics"
	"github.com/99souls/zensight/engine/telemetry"
	"github.com/99souls/zensight/engine/zerr"
)

// PublishOutcome is the result of one Publish call.
type PublishOutcome string

const (
	PublishSuccess       PublishOutcome = "success"
	PublishDroppedRing   PublishOutcome = "dropped_ring_overflow"
	PublishDroppedFailed PublishOutcome = "dropped_permanent_error"
)

// PublisherConfig configures an Advanced Publisher (spec §4.2).
type PublisherConfig struct {
	Bridge         string
	Format         telemetry.WireFormat
	RingCapacity   int           // default 100
	HeartbeatEvery time.Duration // default 500ms
	RetryBaseDelay time.Duration // default 200ms
	RetryMaxDelay  time.Duration // default 10s
}

func (c *PublisherConfig) applyDefaults() {
	if c.RingCapacity <= 0 {
		c.RingCapacity = 100
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = 500 * time.Millisecond
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 200 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
}

// Publisher is the Advanced Publisher of spec §4.2: per-key ring cache,
// per-key monotonic sequence numbers, and heartbeat-carried miss detection.
// Presence announcement (spec §4.2/§4.3) is owned by LivenessPublisher,
// which callers pair with a Publisher under the same bridge name.
type Publisher struct {
	cfg  PublisherConfig
	conn *nats.Conn
	ring *ringCacheSet

	seqMu sync.Mutex
	seq   map[string]uint64

	droppedOverflow atomic.Uint64
	droppedPermanent atomic.Uint64
	published        atomic.Uint64

	mDropped  metrics.Counter
	mPublished metrics.Counter

	recoverySub *nats.Subscription

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewPublisher constructs a Publisher bound to conn.
func NewPublisher(conn *nats.Conn, cfg PublisherConfig, provider metrics.Provider) (*Publisher, error) {
	cfg.applyDefaults()
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	p := &Publisher{
		cfg:    cfg,
		conn:   conn,
		ring:   newRingCacheSet(cfg.RingCapacity),
		seq:    make(map[string]uint64),
		stopCh: make(chan struct{}),
	}
	p.mDropped = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "zensight", Subsystem: "publisher", Name: "dropped_total", Help: "Samples dropped by the publisher", Labels: []string{"reason"},
	}})
	p.mPublished = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "zensight", Subsystem: "publisher", Name: "published_total", Help: "Samples accepted for publish",
	}})

	sub, err := conn.Subscribe(RecoverySubject(">"), p.handleRecoveryRequest)
	if err != nil {
		return nil, zerr.Transportf(false, "subscribe recovery subject: %v", err)
	}
	p.recoverySub = sub

	p.wg.Add(1)
	go p.heartbeatLoop()
	return p, nil
}

// Publish serializes and sends point, assigning it the next per-key
// sequence number. Transient transport errors are retried in the
// background with exponential backoff (base/cap from PublisherConfig,
// ±25% jitter, spec §4.1); permanent errors drop the sample immediately.
func (p *Publisher) Publish(ctx context.Context, point *telemetry.TelemetryPoint) (PublishOutcome, error) {
	if err := point.WellFormed(false); err != nil {
		return PublishDroppedFailed, err
	}
	key, err := point.Key()
	if err != nil {
		return PublishDroppedFailed, err
	}

	seq := p.nextSeq(key)
	ring := p.ring.ringFor(key)
	before := ring.Dropped()
	ring.Push(point, seq)
	if ring.Dropped() > before {
		p.droppedOverflow.Add(1)
		if p.mDropped != nil {
			p.mDropped.Inc(1, "ring_overflow")
		}
	}

	data, err := telemetry.EncodePoint(point, p.cfg.Format)
	if err != nil {
		return PublishDroppedFailed, zerr.Parsef(point.Source, "encode point: %v", err)
	}

	if pubErr := p.conn.Publish(ToSubject(key), data); pubErr != nil {
		if isTransientTransportErr(pubErr) {
			p.retryAsync(key, data)
			return PublishSuccess, nil // queued for retry; not yet a drop
		}
		p.droppedPermanent.Add(1)
		if p.mDropped != nil {
			p.mDropped.Inc(1, "permanent_transport_error")
		}
		return PublishDroppedFailed, zerr.Transportf(false, "publish %s: %v", key, pubErr)
	}

	p.published.Add(1)
	if p.mPublished != nil {
		p.mPublished.Inc(1)
	}
	return PublishSuccess, nil
}

func (p *Publisher) nextSeq(key string) uint64 {
	p.seqMu.Lock()
	defer p.seqMu.Unlock()
	p.seq[key]++
	return p.seq[key]
}

// retryAsync retries a publish with exponential backoff, base/cap/jitter
// per spec §4.1, giving up silently after the cap is reached twice in a
// row (the sample remains visible via the ring cache's recovery path).
func (p *Publisher) retryAsync(key string, data []byte) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		delay := p.cfg.RetryBaseDelay
		for attempt := 0; attempt < 8; attempt++ {
			timer := time.NewTimer(jitter(delay))
			select {
			case <-p.stopCh:
				timer.Stop()
				return
			case <-timer.C:
			}
			if err := p.conn.Publish(ToSubject(key), data); err == nil {
				p.published.Add(1)
				if p.mPublished != nil {
					p.mPublished.Inc(1)
				}
				return
			} else if !isTransientTransportErr(err) {
				p.droppedPermanent.Add(1)
				if p.mDropped != nil {
					p.mDropped.Inc(1, "permanent_transport_error")
				}
				return
			}
			delay *= 2
			if delay > p.cfg.RetryMaxDelay {
				delay = p.cfg.RetryMaxDelay
			}
		}
		p.droppedPermanent.Add(1)
		if p.mDropped != nil {
			p.mDropped.Inc(1, "retry_exhausted")
		}
	}()
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.25
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}

// heartbeatLoop emits the miss-detection heartbeat every HeartbeatEvery,
// carrying the highest sequence number observed per key (spec §4.2).
func (p *Publisher) heartbeatLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.emitHeartbeat()
		}
	}
}

func (p *Publisher) emitHeartbeat() {
	p.seqMu.Lock()
	snapshot := make(map[string]uint64, len(p.seq))
	for k, v := range p.seq {
		snapshot[k] = v
	}
	p.seqMu.Unlock()

	data, err := encodeHeartbeat(snapshot)
	if err != nil {
		return
	}
	_ = p.conn.Publish(HeartbeatSubject(p.cfg.Bridge), data)
}

// handleRecoveryRequest replays the requested sequence range for a key from
// the ring cache (spec §4.6 recovery). Requests for ranges no longer held
// in the ring simply return a shorter reply; the subscriber gives up after
// one retry per spec.
func (p *Publisher) handleRecoveryRequest(msg *nats.Msg) {
	req, err := decodeRecoveryRequest(msg.Data)
	if err != nil {
		return
	}
	ring := p.ring.ringFor(req.Key)
	points := ring.Range(req.From, req.To)
	reply, err := encodeRecoveryReply(points, p.cfg.Format)
	if err != nil {
		return
	}
	if msg.Reply != "" {
		_ = p.conn.Publish(msg.Reply, reply)
	}
}

// PublisherStats is a snapshot of the publisher's counters, as returned by
// Stats.
type PublisherStats struct {
	Published        uint64
	DroppedOverflow  uint64
	DroppedPermanent uint64
}

func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published:        p.published.Load(),
		DroppedOverflow:  p.droppedOverflow.Load(),
		DroppedPermanent: p.droppedPermanent.Load(),
	}
}

// Stop halts background goroutines and drops the recovery subscription.
// Presence tokens are not touched here; they belong to LivenessPublisher.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if p.recoverySub != nil {
			_ = p.recoverySub.Unsubscribe()
		}
	})
	p.wg.Wait()
}

func isTransientTransportErr(err error) bool {
	switch err {
	case nats.ErrConnectionClosed, nats.ErrConnectionDraining, nats.ErrTimeout, nats.ErrNoServers, nats.ErrDisconnected:
		return true
	default:
		return false
	}
}
