package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// typeProbe is decoded first to discover an inbound envelope's type
// before re-decoding into the matching concrete struct.
type typeProbe struct {
	Type string `json:"type"`
}

// DecodeText decodes an inbound text frame into one of StartJob,
// CancelJob, or Ping. Unknown fields are rejected, and an unrecognized
// type yields a *Error with CodeUnknownMessageType.
func DecodeText(raw []byte) (any, error) {
	var probe typeProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, NewError(CodeInvalidJSON, "malformed JSON")
	}

	strict := func(dst any) error {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil {
			return NewError(CodeInvalidJSON, fmt.Sprintf("malformed %s envelope: %v", probe.Type, err))
		}
		return nil
	}

	switch MessageType(probe.Type) {
	case TypeStartJob:
		var m StartJob
		if err := strict(&m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeCancelJob:
		var m CancelJob
		if err := strict(&m); err != nil {
			return nil, err
		}
		return m, nil
	case TypePing:
		var m Ping
		if err := strict(&m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, NewError(CodeUnknownMessageType, fmt.Sprintf("unrecognized message type: %q", probe.Type))
	}
}

// EncodeText marshals any outbound envelope type to its JSON wire form.
func EncodeText(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

// EncodeBinaryFrame lays out a binary frame as
// u32_big_endian(header_len) || header_json_utf8 || payload_bytes, per
// SPEC_FULL §6.
func EncodeBinaryFrame(header BinaryHeader, payload []byte) ([]byte, error) {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 4+len(headerJSON)+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(headerJSON)))
	copy(buf[4:], headerJSON)
	copy(buf[4+len(headerJSON):], payload)
	return buf, nil
}

// DecodeBinaryFrame parses a binary frame into its header and payload.
// Returns a *Error with CodeInvalidBinary on any malformed input.
func DecodeBinaryFrame(data []byte) (BinaryHeader, []byte, error) {
	if len(data) < 4 {
		return BinaryHeader{}, nil, NewError(CodeInvalidBinary, "frame shorter than header length prefix")
	}
	headerLen := binary.BigEndian.Uint32(data[:4])
	if int(headerLen) > len(data)-4 {
		return BinaryHeader{}, nil, NewError(CodeInvalidBinary, "header length exceeds frame size")
	}
	var header BinaryHeader
	if err := json.Unmarshal(data[4:4+headerLen], &header); err != nil {
		return BinaryHeader{}, nil, NewError(CodeInvalidBinary, fmt.Sprintf("unparseable binary header: %v", err))
	}
	payload := data[4+headerLen:]
	return header, payload, nil
}
