package bus

import (
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// TokenSubject returns the presence subject for a bridge-level token
// (device == "") or a device-level token.
func TokenSubject(bridge, device string) string {
	if device == "" {
		return PresenceSubject(bridge)
	}
	return PresenceSubject(bridge) + "." + sanitizeToken(device)
}

const (
	tokenPresent = "present"
	tokenAbsent  = "absent"
)

// LivenessPublisher owns this bridge's presence tokens (spec §4.3): one
// per-process token plus one per device currently considered reachable. A
// token, once declared, is kept alive by periodic republication so
// subscribers watching for TTL expiry see it as present continuously;
// Revoke publishes an explicit absent message for immediate propagation
// instead of waiting out the TTL.
type LivenessPublisher struct {
	conn     *nats.Conn
	bridge   string
	interval time.Duration

	mu       sync.Mutex
	declared map[string]bool // token subject -> declared

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewLivenessPublisher builds a LivenessPublisher and declares the
// bridge-level token immediately (spec: "declare before the first
// telemetry").
func NewLivenessPublisher(conn *nats.Conn, bridge string, republishEvery time.Duration) *LivenessPublisher {
	if republishEvery <= 0 {
		republishEvery = 500 * time.Millisecond
	}
	lp := &LivenessPublisher{
		conn:     conn,
		bridge:   bridge,
		interval: republishEvery,
		declared: make(map[string]bool),
		stopCh:   make(chan struct{}),
	}
	lp.Declare("")
	lp.wg.Add(1)
	go lp.republishLoop()
	return lp
}

// Declare announces presence for device (or the bridge itself if device is
// empty). Declaring an already-declared token is a no-op, satisfying the
// "never double-declare" invariant.
func (lp *LivenessPublisher) Declare(device string) {
	subject := TokenSubject(lp.bridge, device)
	lp.mu.Lock()
	already := lp.declared[subject]
	lp.declared[subject] = true
	lp.mu.Unlock()
	if !already {
		_ = lp.conn.Publish(subject, []byte(tokenPresent))
	}
}

// Revoke withdraws a previously declared token and propagates absence
// immediately.
func (lp *LivenessPublisher) Revoke(device string) {
	subject := TokenSubject(lp.bridge, device)
	lp.mu.Lock()
	_, was := lp.declared[subject]
	delete(lp.declared, subject)
	lp.mu.Unlock()
	if was {
		_ = lp.conn.Publish(subject, []byte(tokenAbsent))
	}
}

func (lp *LivenessPublisher) republishLoop() {
	defer lp.wg.Done()
	ticker := time.NewTicker(lp.interval)
	defer ticker.Stop()
	for {
		select {
		case <-lp.stopCh:
			return
		case <-ticker.C:
			lp.mu.Lock()
			subjects := make([]string, 0, len(lp.declared))
			for s := range lp.declared {
				subjects = append(subjects, s)
			}
			lp.mu.Unlock()
			for _, s := range subjects {
				_ = lp.conn.Publish(s, []byte(tokenPresent))
			}
		}
	}
}

// Stop revokes every declared token (bridge and device) before halting, so
// subscribers see immediate absence on graceful shutdown (spec §5: "on
// SIGINT/SIGTERM ... liveness tokens are revoked").
func (lp *LivenessPublisher) Stop() {
	lp.stopOnce.Do(func() {
		lp.mu.Lock()
		subjects := make([]string, 0, len(lp.declared))
		for s := range lp.declared {
			subjects = append(subjects, s)
		}
		lp.declared = make(map[string]bool)
		lp.mu.Unlock()
		for _, s := range subjects {
			_ = lp.conn.Publish(s, []byte(tokenAbsent))
		}
		close(lp.stopCh)
	})
	lp.wg.Wait()
}

// presenceTracker watches tokens for absence-by-TTL on the subscriber side:
// a token not refreshed within staleAfter is considered absent even without
// an explicit revoke (covers process crash / network partition, spec §4.3).
type presenceTracker struct {
	mu         sync.Mutex
	lastSeen   map[string]time.Time
	present    map[string]bool
	staleAfter time.Duration
}

func newPresenceTracker(staleAfter time.Duration) *presenceTracker {
	if staleAfter <= 0 {
		staleAfter = 1500 * time.Millisecond
	}
	return &presenceTracker{lastSeen: make(map[string]time.Time), present: make(map[string]bool), staleAfter: staleAfter}
}

// Observe records a present/absent message and reports whether the token's
// state changed.
func (t *presenceTracker) Observe(subject string, present bool) (changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[subject] = time.Now()
	was := t.present[subject]
	t.present[subject] = present
	return was != present
}

// Sweep marks any token not seen within staleAfter as absent, returning the
// subjects that just transitioned.
func (t *presenceTracker) Sweep() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var transitioned []string
	cutoff := time.Now().Add(-t.staleAfter)
	for subject, seen := range t.lastSeen {
		if t.present[subject] && seen.Before(cutoff) {
			t.present[subject] = false
			transitioned = append(transitioned, subject)
		}
	}
	return transitioned
}

// bridgeAndDeviceFromTokenSubject splits a token subject back into its
// (bridge, device) components; device is empty for a bridge-level token.
func bridgeAndDeviceFromTokenSubject(subject string) (bridge, device string) {
	const prefix = "zensight._presence."
	rest := strings.TrimPrefix(subject, prefix)
	parts := strings.SplitN(rest, ".", 2)
	bridge = parts[0]
	if len(parts) == 2 {
		device = parts[1]
	}
	return
}
