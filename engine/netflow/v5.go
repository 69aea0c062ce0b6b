package netflow

import (
	"encoding/binary"
	"net"

	"github.com/99souls/zensight/engine/zerr"
)

// v5HeaderLen is the size of the 24-byte NetFlow v5 packet header; v7 shares this layout
// with additional per-record fields only.
const v5HeaderLen = 24
const v5RecordLen = 48
const v7RecordLen = 52

// decodeV5 parses a v5 (or v7, whose 4-byte-longer record carries a
// router-source-address field this decoder ignores beyond the shared
// prefix) datagram into flowRecords, one per fixed 48/52-byte record.
func decodeV5(data []byte, recordLen int) ([]flowRecord, error) {
	if len(data) < v5HeaderLen {
		return nil, zerr.Parsef("", "netflow v5/v7: short header (%d bytes)", len(data))
	}
	count := int(binary.BigEndian.Uint16(data[2:4]))
	body := data[v5HeaderLen:]
	if len(body) < count*recordLen {
		return nil, zerr.Parsef("", "netflow v5/v7: truncated body, want %d records of %d bytes, have %d bytes", count, recordLen, len(body))
	}

	records := make([]flowRecord, 0, count)
	for i := 0; i < count; i++ {
		r := body[i*recordLen : (i+1)*recordLen]
		rec := flowRecord{
			SrcAddr:  net.IP(append([]byte(nil), r[0:4]...)).String(),
			DstAddr:  net.IP(append([]byte(nil), r[4:8]...)).String(),
			Packets:  uint64(binary.BigEndian.Uint32(r[16:20])),
			Bytes:    uint64(binary.BigEndian.Uint32(r[20:24])),
			First:    uint64(binary.BigEndian.Uint32(r[24:28])),
			Last:     uint64(binary.BigEndian.Uint32(r[28:32])),
			SrcPort:  binary.BigEndian.Uint16(r[32:34]),
			DstPort:  binary.BigEndian.Uint16(r[34:36]),
			Protocol: r[38],
		}
		records = append(records, rec)
	}
	return records, nil
}

// flowRecord is the protocol-agnostic decoded shape both the v5/v7 decoder
// and the v9/IPFIX template-driven decoder produce, so emission (Receiver.emit in receiver.go)
// doesn't need to know which wire format a record came from.
type flowRecord struct {
	SrcAddr  string
	DstAddr  string
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
	Packets  uint64
	Bytes    uint64
	First    uint64
	Last     uint64
}
