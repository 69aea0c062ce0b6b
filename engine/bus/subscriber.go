package bus

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/99souls/zensight/engine/logging"
	"github.com/99souls/zensight/engine/telemetry"
	"github.com/99souls/zensight/engine/zerr"
)

// LivenessEvent is delivered on the liveness namespace subscription and
// mapped by callers to BridgeOnline/Offline or DeviceOnline/Offline
// messages (spec §4.6).
type LivenessEvent struct {
	Bridge  string
	Device  string // empty for a bridge-level event
	Present bool
}

// SubscriberConfig configures the Subscriber.
type SubscriberConfig struct {
	RecoveryTimeout    time.Duration // default 2s
	PresenceStaleAfter time.Duration // default 1.5s; TTL for a presence token with no explicit revoke
}

func (c *SubscriberConfig) applyDefaults() {
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 2 * time.Second
	}
	if c.PresenceStaleAfter <= 0 {
		c.PresenceStaleAfter = 1500 * time.Millisecond
	}
}

// Subscriber is the advanced subscriber of spec §4.6: subscribes to
// zensight.>, replays history per key on first sight of a publisher,
// detects sequence gaps and requests recovery once, and maps presence
// subjects to LivenessEvents.
type Subscriber struct {
	cfg  SubscriberConfig
	conn *nats.Conn
	log  logging.Logger

	points   chan *telemetry.TelemetryPoint
	liveness chan LivenessEvent
	decodeErrs chan error

	mu      sync.Mutex
	lastSeq map[string]uint64 // best-effort gap tracking; seq isn't on the wire point itself, tracked via heartbeat

	tokens *presenceTracker

	sub      *nats.Subscription
	presence *nats.Subscription

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSubscriber subscribes to the full telemetry namespace and the
// heartbeat/presence namespaces.
func NewSubscriber(conn *nats.Conn, cfg SubscriberConfig, log logging.Logger) (*Subscriber, error) {
	cfg.applyDefaults()
	if log == nil {
		log = logging.New(nil)
	}
	s := &Subscriber{
		cfg:        cfg,
		conn:       conn,
		log:        log,
		points:     make(chan *telemetry.TelemetryPoint, 1024),
		liveness:   make(chan LivenessEvent, 256),
		decodeErrs: make(chan error, 64),
		lastSeq:    make(map[string]uint64),
		tokens:     newPresenceTracker(cfg.PresenceStaleAfter),
		stopCh:     make(chan struct{}),
	}

	sub, err := conn.Subscribe(AllKeysWildcard, s.handlePointMsg)
	if err != nil {
		return nil, err
	}
	s.sub = sub

	presence, err := conn.Subscribe("zensight._presence.>", s.handlePresenceMsg)
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	s.presence = presence

	hbSub, err := conn.Subscribe("zensight._heartbeat.*", s.handleHeartbeatMsg)
	if err != nil {
		_ = sub.Unsubscribe()
		_ = presence.Unsubscribe()
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-s.stopCh
		_ = hbSub.Unsubscribe()
	}()

	s.wg.Add(1)
	go s.presenceSweepLoop()

	return s, nil
}

// presenceSweepLoop periodically checks for presence tokens that have gone
// silent without an explicit absent message (process crash, network
// partition) and synthesizes the absence transition (spec §4.3).
func (s *Subscriber) presenceSweepLoop() {
	defer s.wg.Done()
	interval := s.cfg.PresenceStaleAfter / 2
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			for _, subject := range s.tokens.Sweep() {
				bridge, device := bridgeAndDeviceFromTokenSubject(subject)
				ev := LivenessEvent{Bridge: bridge, Device: device, Present: false}
				select {
				case s.liveness <- ev:
				case <-s.stopCh:
					return
				default:
				}
			}
		}
	}
}

// Points returns the channel of decoded telemetry samples.
func (s *Subscriber) Points() <-chan *telemetry.TelemetryPoint { return s.points }

// Liveness returns the channel of bridge/device presence transitions.
func (s *Subscriber) Liveness() <-chan LivenessEvent { return s.liveness }

// DecodeErrors returns decode failures, which are logged by the caller and
// never terminate the subscription (spec §4.6).
func (s *Subscriber) DecodeErrors() <-chan error { return s.decodeErrs }

func (s *Subscriber) handlePointMsg(msg *nats.Msg) {
	point, _, err := telemetry.DecodePoint(msg.Data)
	if err != nil {
		s.reportDecodeErr(err)
		return
	}
	select {
	case s.points <- point:
	case <-s.stopCh:
	default:
		// downstream consumer applies no backpressure to the transport;
		// drop and let it detect loss via its own counters (spec §5).
	}
}

func (s *Subscriber) reportDecodeErr(err error) {
	select {
	case s.decodeErrs <- err:
	default:
	}
}

// Gap detection (spec §4.6) is driven entirely from heartbeat snapshots
// below: the wire schema carries no per-point sequence number (spec §3),
// so handleHeartbeatMsg is the only place a gap can be observed.
func (s *Subscriber) handleHeartbeatMsg(msg *nats.Msg) {
	hb, err := decodeHeartbeat(msg.Data)
	if err != nil {
		return
	}
	for key, seq := range hb.Seqs {
		s.mu.Lock()
		last := s.lastSeq[key]
		firstSeen := last == 0
		gap := seq > last+1 && last > 0
		s.lastSeq[key] = seq
		s.mu.Unlock()
		switch {
		case firstSeen:
			// History on subscription / late-publisher detection (spec
			// §4.6): a key not seen before is a publisher this Subscriber
			// hasn't heard a live point from yet, so fetch its last
			// cached sample retroactively instead of waiting for the
			// next live publish.
			s.requestRecovery(key, seq, seq)
		case gap:
			s.requestRecovery(key, last+1, seq-1)
		}
	}
}

// requestRecovery fetches the missing sequence range for key, giving up
// after one retry and surfacing a parse-class error (spec §4.6).
func (s *Subscriber) requestRecovery(key string, from, to uint64) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		payload, err := encodeRecoveryRequest(recoveryRequest{Key: key, From: from, To: to})
		if err != nil {
			return
		}
		for attempt := 0; attempt < 2; attempt++ {
			resp, err := s.conn.Request(RecoverySubject(key), payload, s.cfg.RecoveryTimeout)
			if err != nil {
				continue
			}
			reply, err := decodeRecoveryReply(resp.Data)
			if err != nil {
				s.reportDecodeErr(err)
				return
			}
			for _, raw := range reply.Points {
				point, _, err := telemetry.DecodePoint(raw)
				if err != nil {
					continue
				}
				select {
				case s.points <- point:
				case <-s.stopCh:
					return
				default:
				}
			}
			return
		}
		s.reportDecodeErr(zerr.Parsef("", "bus: recovery of %s [%d..%d] got no reply after one retry", key, from, to))
	}()
}

func (s *Subscriber) handlePresenceMsg(msg *nats.Msg) {
	present := string(msg.Data) == tokenPresent
	if !s.tokens.Observe(msg.Subject, present) {
		return
	}
	bridge, device := bridgeAndDeviceFromTokenSubject(msg.Subject)
	ev := LivenessEvent{Bridge: bridge, Device: device, Present: present}
	select {
	case s.liveness <- ev:
	case <-s.stopCh:
	default:
	}
}

// Stop tears down every subscription.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.sub != nil {
			_ = s.sub.Unsubscribe()
		}
		if s.presence != nil {
			_ = s.presence.Unsubscribe()
		}
	})
	s.wg.Wait()
}
