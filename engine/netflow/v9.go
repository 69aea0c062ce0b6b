package netflow

import (
	"encoding/binary"
	"net"

	"github.com/99souls/zensight/engine/zerr"
)

const (
	flowSetTemplateV9   = 0
	flowSetOptionsV9    = 1
	flowSetTemplateIPFIX = 2
	flowSetOptionsIPFIX  = 3
)

// IANA field-type identifiers this decoder understands (spec §4.5: "IANA-
// registered semantics"). Fields outside this set are still consumed
// (their length is known from the template) but not surfaced as a
// dedicated flowRecord attribute.
const (
	fieldOctetDeltaCount  = 1
	fieldPacketDeltaCount = 2
	fieldProtocol         = 4
	fieldL4SrcPort        = 7
	fieldIPv4SrcAddr      = 8
	fieldInputSnmp        = 10
	fieldL4DstPort        = 11
	fieldIPv4DstAddr      = 12
	fieldLastSwitched     = 21
	fieldFirstSwitched    = 22
	fieldIPv6SrcAddr      = 27
	fieldIPv6DstAddr      = 28
)

// decodeResult carries the decoded data records plus the datagram's
// source/domain ID.
type decodeResult struct {
	SourceID uint32
	Records  []flowRecord
}

// decodeV9 parses a NetFlow v9 datagram.
func decodeV9(data []byte, exporter string, cache *templateCache, pending *pendingBuffer) (decodeResult, error) {
	if len(data) < 20 {
		return decodeResult{}, zerr.Parsef("", "netflow v9: short header (%d bytes)", len(data))
	}
	sourceID := binary.BigEndian.Uint32(data[16:20])
	records, err := walkFlowSets(data[20:], exporter, sourceID, flowSetTemplateV9, flowSetOptionsV9, cache, pending)
	return decodeResult{SourceID: sourceID, Records: records}, err
}

// decodeIPFIX parses an IPFIX (NetFlow v10) datagram.
func decodeIPFIX(data []byte, exporter string, cache *templateCache, pending *pendingBuffer) (decodeResult, error) {
	if len(data) < 16 {
		return decodeResult{}, zerr.Parsef("", "ipfix: short header (%d bytes)", len(data))
	}
	domainID := binary.BigEndian.Uint32(data[12:16])
	records, err := walkFlowSets(data[16:], exporter, domainID, flowSetTemplateIPFIX, flowSetOptionsIPFIX, cache, pending)
	return decodeResult{SourceID: domainID, Records: records}, err
}

// walkFlowSets iterates every FlowSet in body, learning templates into
// cache and decoding Data FlowSets whose template is already known.
// Data FlowSets referencing an unknown template are buffered via pending
// rather than dropped immediately (spec §4.5).
func walkFlowSets(body []byte, exporter string, sourceID uint32, templateSetID, optionsSetID int, cache *templateCache, pending *pendingBuffer) ([]flowRecord, error) {
	var out []flowRecord
	for len(body) >= 4 {
		setID := binary.BigEndian.Uint16(body[0:2])
		length := int(binary.BigEndian.Uint16(body[2:4]))
		if length < 4 || length > len(body) {
			return out, zerr.Parsef("", "netflow: invalid flowset length %d", length)
		}
		setBody := body[4:length]
		body = body[length:]

		switch {
		case int(setID) == templateSetID:
			parseTemplateSet(setBody, exporter, sourceID, cache, false)
		case int(setID) == optionsSetID:
			parseTemplateSet(setBody, exporter, sourceID, cache, true)
		default:
			key := templateKey{Exporter: exporter, SourceID: sourceID, ID: setID}
			tpl, ok := cache.Get(key)
			if !ok {
				pending.Add(exporter, key, append([]byte(nil), setBody...))
				continue
			}
			recs := decodeDataRecords(setBody, tpl)
			out = append(out, recs...)
		}
	}
	return out, nil
}

// parseTemplateSet decodes one or more Template/Options-Template records
// from setBody and stores each in cache. Options templates combine scope
// and option field lists into one field sequence — sufficient for this
// decoder's purposes since it projects by field-id, not by scope/option
// distinction.
func parseTemplateSet(setBody []byte, exporter string, sourceID uint32, cache *templateCache, isOptions bool) {
	for len(setBody) >= 4 {
		templateID := binary.BigEndian.Uint16(setBody[0:2])
		setBody = setBody[2:]

		var fieldCount int
		if isOptions {
			scopeLen := int(binary.BigEndian.Uint16(setBody[0:2]))
			optionLen := int(binary.BigEndian.Uint16(setBody[2:4]))
			setBody = setBody[4:]
			fieldCount = (scopeLen + optionLen) / 4
		} else {
			fieldCount = int(binary.BigEndian.Uint16(setBody[0:2]))
			setBody = setBody[2:]
		}

		if len(setBody) < fieldCount*4 {
			return
		}
		fields := make([]field, 0, fieldCount)
		for i := 0; i < fieldCount; i++ {
			id := binary.BigEndian.Uint16(setBody[i*4 : i*4+2])
			length := int(binary.BigEndian.Uint16(setBody[i*4+2 : i*4+4]))
			if length == 0xFFFF {
				length = -1
			}
			fields = append(fields, field{ID: id, Length: length})
		}
		setBody = setBody[fieldCount*4:]

		cache.Put(templateKey{Exporter: exporter, SourceID: sourceID, ID: templateID}, &template{Fields: fields})
	}
}

// decodeDataRecords walks setBody extracting one flowRecord per
// tpl.Fields-wide slice, stopping if a record would be truncated.
func decodeDataRecords(setBody []byte, tpl *template) []flowRecord {
	recLen := 0
	for _, f := range tpl.Fields {
		if f.Length < 0 {
			return nil // variable-length IPFIX fields: not supported by this decoder
		}
		recLen += f.Length
	}
	if recLen == 0 {
		return nil
	}

	var out []flowRecord
	for len(setBody) >= recLen {
		rec := setBody[:recLen]
		setBody = setBody[recLen:]
		out = append(out, decodeOneRecord(rec, tpl.Fields))
	}
	return out
}

func decodeOneRecord(rec []byte, fields []field) flowRecord {
	var fr flowRecord
	off := 0
	for _, f := range fields {
		v := rec[off : off+f.Length]
		off += f.Length
		switch f.ID {
		case fieldOctetDeltaCount:
			fr.Bytes = beUint(v)
		case fieldPacketDeltaCount:
			fr.Packets = beUint(v)
		case fieldProtocol:
			if len(v) > 0 {
				fr.Protocol = v[0]
			}
		case fieldL4SrcPort:
			fr.SrcPort = uint16(beUint(v))
		case fieldL4DstPort:
			fr.DstPort = uint16(beUint(v))
		case fieldIPv4SrcAddr:
			if len(v) == 4 {
				fr.SrcAddr = net.IP(v).String()
			}
		case fieldIPv4DstAddr:
			if len(v) == 4 {
				fr.DstAddr = net.IP(v).String()
			}
		case fieldIPv6SrcAddr:
			if len(v) == 16 {
				fr.SrcAddr = net.IP(v).String()
			}
		case fieldIPv6DstAddr:
			if len(v) == 16 {
				fr.DstAddr = net.IP(v).String()
			}
		case fieldFirstSwitched:
			fr.First = beUint(v)
		case fieldLastSwitched:
			fr.Last = beUint(v)
		}
	}
	return fr
}

func beUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
