// Package bus implements the zenoh-flavored key-expression fabric described
// in spec §3/§4.2/§4.3/§4.6 on top of a concrete NATS transport: Publisher
// (ring cache, heartbeat/miss-detection), Subscriber (history
// replay, late-publisher detection, gap recovery), and liveness tokens.
package bus

import "strings"

// ToSubject renders a `/`-delimited key expression as a NATS subject.
// zensight's own grammar uses '/' as the hierarchy separator and '**' as a
// multi-level wildcard (zenoh-style); NATS subjects use '.' and '>'. The
// mapping is a straight token substitution, reversible by FromSubject.
func ToSubject(key string) string {
	if key == "**" || strings.HasSuffix(key, "/**") {
		key = strings.TrimSuffix(key, "**") + ">"
	}
	return strings.ReplaceAll(key, "/", ".")
}

// FromSubject reverses ToSubject.
func FromSubject(subject string) string {
	key := strings.ReplaceAll(subject, ".", "/")
	if strings.HasSuffix(key, "/>") {
		key = strings.TrimSuffix(key, ">") + "**"
	} else if key == ">" {
		key = "**"
	}
	return key
}

// AllKeysWildcard is the subject subscribed to for the "zensight/**"
// advanced subscription (spec §4.6).
const AllKeysWildcard = "zensight.>"

// HeartbeatSubject returns the per-bridge heartbeat subject.
func HeartbeatSubject(bridge string) string {
	return "zensight._heartbeat." + sanitizeToken(bridge)
}

// PresenceSubject returns the per-bridge presence announcement subject.
func PresenceSubject(bridge string) string {
	return "zensight._presence." + sanitizeToken(bridge)
}

// RecoverySubject returns the subject used to request retransmission of a
// sequence-number range for key.
func RecoverySubject(key string) string {
	return "zensight._recover." + sanitizeToken(key)
}

func sanitizeToken(s string) string {
	return strings.ReplaceAll(s, "/", ".")
}
