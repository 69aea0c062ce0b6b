// Package subscriber is the cache-and-recovery subscriber engine consumed
// by every downstream collaborator: the Prometheus exporter, the OTLP
// exporter, and the visualizer frontend (spec §4.6). It wraps bus.Subscriber,
// which already owns history replay, gap recovery, and presence tracking,
// and adds the one thing those consumers actually want: a liveness namespace
// mapped into BridgeOnline/Offline and DeviceOnline/Offline messages instead
// of raw presence tokens.
package subscriber

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/99souls/zensight/engine/bus"
	"github.com/99souls/zensight/engine/logging"
	"github.com/99souls/zensight/engine/telemetry"
)

// EventKind identifies the semantic liveness transition a Message carries.
type EventKind int

const (
	BridgeOnline EventKind = iota
	BridgeOffline
	DeviceOnline
	DeviceOffline
)

func (k EventKind) String() string {
	switch k {
	case BridgeOnline:
		return "BridgeOnline"
	case BridgeOffline:
		return "BridgeOffline"
	case DeviceOnline:
		return "DeviceOnline"
	case DeviceOffline:
		return "DeviceOffline"
	default:
		return "Unknown"
	}
}

// Message is a liveness transition mapped from the presence namespace,
// ready for delivery to a consumer (spec §4.6).
type Message struct {
	Kind   EventKind
	Bridge string
	Device string // empty for a bridge-level message
}

// Subscriber is the shared engine: it owns a bus.Subscriber and re-exposes
// its telemetry/decode-error channels unchanged while translating
// bus.LivenessEvent into the Message vocabulary consumers expect.
type Subscriber struct {
	inner *bus.Subscriber
	log   logging.Logger

	messages chan Message

	stopCh chan struct{}
}

// New subscribes conn to the telemetry and liveness namespaces and starts
// translating liveness events into Messages.
func New(conn *nats.Conn, cfg bus.SubscriberConfig, log logging.Logger) (*Subscriber, error) {
	if log == nil {
		log = logging.New(nil)
	}
	inner, err := bus.NewSubscriber(conn, cfg, log)
	if err != nil {
		return nil, err
	}
	s := &Subscriber{
		inner:    inner,
		log:      log,
		messages: make(chan Message, 256),
		stopCh:   make(chan struct{}),
	}
	go s.translateLoop()
	return s, nil
}

// Points returns decoded telemetry samples, including recovered/replayed
// history (spec §4.6: "History on subscription", "Late-publisher
// detection", "Recovery").
func (s *Subscriber) Points() <-chan *telemetry.TelemetryPoint { return s.inner.Points() }

// DecodeErrors surfaces payload decode failures and abandoned recoveries;
// the caller logs these and otherwise ignores them (spec §4.6).
func (s *Subscriber) DecodeErrors() <-chan error { return s.inner.DecodeErrors() }

// Messages returns BridgeOnline/Offline and DeviceOnline/Offline
// notifications mapped from the liveness namespace.
func (s *Subscriber) Messages() <-chan Message { return s.messages }

func (s *Subscriber) translateLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.inner.Liveness():
			if !ok {
				return
			}
			msg := messageFor(ev)
			select {
			case s.messages <- msg:
			case <-s.stopCh:
				return
			default:
				s.log.WarnCtx(context.Background(), "subscriber: dropped liveness message, consumer too slow", "kind", msg.Kind.String(), "bridge", msg.Bridge, "device", msg.Device)
			}
		}
	}
}

// messageFor maps a raw presence transition to its semantic Message. An
// empty Device denotes a bridge-level token (bus.TokenSubject's own
// convention).
func messageFor(ev bus.LivenessEvent) Message {
	bridgeLevel := ev.Device == ""
	switch {
	case bridgeLevel && ev.Present:
		return Message{Kind: BridgeOnline, Bridge: ev.Bridge}
	case bridgeLevel && !ev.Present:
		return Message{Kind: BridgeOffline, Bridge: ev.Bridge}
	case !bridgeLevel && ev.Present:
		return Message{Kind: DeviceOnline, Bridge: ev.Bridge, Device: ev.Device}
	default:
		return Message{Kind: DeviceOffline, Bridge: ev.Bridge, Device: ev.Device}
	}
}

// Stop tears down the underlying subscription and the translation loop.
func (s *Subscriber) Stop() {
	close(s.stopCh)
	s.inner.Stop()
}
