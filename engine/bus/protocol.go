package bus

import (
	"encoding/json"

	"github.com/99souls/zensight/engine/telemetry"
)

// heartbeatMessage carries the highest sequence number per key a publisher
// has emitted, so subscribers can detect gaps even during idle periods
// (spec §4.2).
type heartbeatMessage struct {
	Seqs map[string]uint64 `json:"seqs"`
}

func encodeHeartbeat(seqs map[string]uint64) ([]byte, error) {
	return json.Marshal(heartbeatMessage{Seqs: seqs})
}

func decodeHeartbeat(data []byte) (heartbeatMessage, error) {
	var hb heartbeatMessage
	err := json.Unmarshal(data, &hb)
	return hb, err
}

// recoveryRequest asks a publisher to replay samples for Key with sequence
// numbers in [From, To] (spec §4.6 recovery-on-gap).
type recoveryRequest struct {
	Key  string `json:"key"`
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

func encodeRecoveryRequest(req recoveryRequest) ([]byte, error) {
	return json.Marshal(req)
}

func decodeRecoveryRequest(data []byte) (recoveryRequest, error) {
	var req recoveryRequest
	err := json.Unmarshal(data, &req)
	return req, err
}

// recoveryReply carries the replayed points, in ascending sequence order.
type recoveryReply struct {
	Format telemetry.WireFormat `json:"format"`
	Points [][]byte             `json:"points"`
}

func encodeRecoveryReply(points []*telemetry.TelemetryPoint, format telemetry.WireFormat) ([]byte, error) {
	reply := recoveryReply{Format: format}
	for _, p := range points {
		data, err := telemetry.EncodePoint(p, format)
		if err != nil {
			continue
		}
		reply.Points = append(reply.Points, data)
	}
	return json.Marshal(reply)
}

func decodeRecoveryReply(data []byte) (recoveryReply, error) {
	var reply recoveryReply
	err := json.Unmarshal(data, &reply)
	return reply, err
}
