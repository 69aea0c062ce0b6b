package telemetry

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// WireFormat tags the two accepted encodings on the transport.
type WireFormat string

const (
	FormatJSON WireFormat = "json"
	FormatCBOR WireFormat = "cbor"
)

var cborEncMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// EncodePoint encodes p in the requested format.
func EncodePoint(p *TelemetryPoint, format WireFormat) ([]byte, error) {
	switch format {
	case FormatCBOR:
		return cborEncMode.Marshal(p)
	case FormatJSON, "":
		return json.Marshal(p)
	default:
		return nil, fmt.Errorf("telemetry: unknown wire format %q", format)
	}
}

// DecodePoint decodes a TelemetryPoint, auto-detecting the wire format per
// the rule: CBOR if the leading byte is a CBOR major-type-5 (map) header,
// JSON otherwise. A JSON document always starts with '{' (0x7b) or
// whitespace, neither of which collides with CBOR's map major-type range
// (0xa0-0xbf), so the leading byte alone disambiguates.
func DecodePoint(data []byte) (*TelemetryPoint, WireFormat, error) {
	format := DetectFormat(data)
	p := &TelemetryPoint{}
	var err error
	switch format {
	case FormatCBOR:
		err = cbor.Unmarshal(data, p)
	default:
		err = json.Unmarshal(data, p)
	}
	if err != nil {
		return nil, format, err
	}
	return p, format, nil
}

// DetectFormat inspects the leading byte of data to classify its encoding.
func DetectFormat(data []byte) WireFormat {
	if len(data) == 0 {
		return FormatJSON
	}
	b := data[0]
	if b >= 0xa0 && b <= 0xbf {
		return FormatCBOR
	}
	return FormatJSON
}

// EncodeHealth, EncodeLiveness, EncodeError mirror EncodePoint for the
// remaining wire types; all four share the same format-selection rule.

func EncodeHealth(h *HealthSnapshot, format WireFormat) ([]byte, error) {
	if format == FormatCBOR {
		return cborEncMode.Marshal(h)
	}
	return json.Marshal(h)
}

func DecodeHealth(data []byte) (*HealthSnapshot, error) {
	h := &HealthSnapshot{}
	var err error
	if DetectFormat(data) == FormatCBOR {
		err = cbor.Unmarshal(data, h)
	} else {
		err = json.Unmarshal(data, h)
	}
	return h, err
}

func EncodeLiveness(l *DeviceLiveness, format WireFormat) ([]byte, error) {
	if format == FormatCBOR {
		return cborEncMode.Marshal(l)
	}
	return json.Marshal(l)
}

func DecodeLiveness(data []byte) (*DeviceLiveness, error) {
	l := &DeviceLiveness{}
	var err error
	if DetectFormat(data) == FormatCBOR {
		err = cbor.Unmarshal(data, l)
	} else {
		err = json.Unmarshal(data, l)
	}
	return l, err
}

func EncodeErrorReport(e *ErrorReport, format WireFormat) ([]byte, error) {
	if format == FormatCBOR {
		return cborEncMode.Marshal(e)
	}
	return json.Marshal(e)
}

func DecodeErrorReport(data []byte) (*ErrorReport, error) {
	e := &ErrorReport{}
	var err error
	if DetectFormat(data) == FormatCBOR {
		err = cbor.Unmarshal(data, e)
	} else {
		err = json.Unmarshal(data, e)
	}
	return e, err
}
