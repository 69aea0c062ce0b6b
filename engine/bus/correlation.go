package bus

import (
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/99souls/zensight/engine/telemetry"
)

// CorrelationRecord lets one protocol's adapter tell every other protocol
// "this IP is mine" — SNMP interface walks and NetFlow flow endpoints both
// observe raw IPs, and the topology inferencer joins the two by publishing
// and watching these records on the `_meta/correlation/<ip>` namespace
// (spec §3's reserved `_meta` prefix, §4.9's cross-protocol join).
type CorrelationRecord struct {
	Protocol telemetry.Protocol `json:"protocol"`
	Source   string             `json:"source"`
	IP       string             `json:"ip"`
}

// PublishCorrelation announces rec on its IP's correlation subject. A
// correlation record is keyed by IP rather than by (protocol, source,
// metric), so it cannot pass through Publisher.Publish's point grammar
// (telemetry.BuildKey rejects the pseudo-protocol "_meta"); it is published
// directly on conn instead, the same way LivenessPublisher bypasses the
// point grammar for presence tokens.
func PublishCorrelation(conn *nats.Conn, rec CorrelationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return conn.Publish(ToSubject(telemetry.CorrelationKey(rec.IP)), data)
}

// correlationWildcardSubject matches every IP's correlation subject.
const correlationWildcardSubject = "zensight._meta.correlation.*"

// SubscribeCorrelations delivers every CorrelationRecord published on the
// `_meta/correlation/*` namespace to handler. Malformed payloads are
// dropped; correlation is a best-effort join aid, not a validated stream.
func SubscribeCorrelations(conn *nats.Conn, handler func(CorrelationRecord)) (*nats.Subscription, error) {
	return conn.Subscribe(correlationWildcardSubject, func(msg *nats.Msg) {
		var rec CorrelationRecord
		if err := json.Unmarshal(msg.Data, &rec); err != nil {
			return
		}
		handler(rec)
	})
}
