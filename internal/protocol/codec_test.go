package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeText_StartJob(t *testing.T) {
	raw := []byte(`{"type":"start_job","job_id":"j1","operation":"compress","input":{"source":"url","url":"https://example.com/in.mp4"},"options":{"preset":"high"}}`)

	decoded, err := DecodeText(raw)
	require.NoError(t, err)

	msg, ok := decoded.(StartJob)
	require.True(t, ok)
	assert.Equal(t, "j1", msg.JobID)
	assert.Equal(t, "compress", msg.Operation)
	assert.Equal(t, "url", msg.Input.Source)
	assert.Equal(t, "high", msg.Options["preset"])
}

func TestDecodeText_CancelJob(t *testing.T) {
	raw := []byte(`{"type":"cancel_job","job_id":"j2"}`)

	decoded, err := DecodeText(raw)
	require.NoError(t, err)

	msg, ok := decoded.(CancelJob)
	require.True(t, ok)
	assert.Equal(t, "j2", msg.JobID)
}

func TestDecodeText_Ping(t *testing.T) {
	raw := []byte(`{"type":"ping"}`)

	decoded, err := DecodeText(raw)
	require.NoError(t, err)

	_, ok := decoded.(Ping)
	assert.True(t, ok)
}

func TestDecodeText_MalformedJSON(t *testing.T) {
	_, err := DecodeText([]byte(`not json at all`))

	require.Error(t, err)
	protoErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidJSON, protoErr.Code)
}

func TestDecodeText_UnknownType(t *testing.T) {
	_, err := DecodeText([]byte(`{"type":"self_destruct"}`))

	require.Error(t, err)
	protoErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeUnknownMessageType, protoErr.Code)
}

func TestDecodeText_RejectsUnknownFields(t *testing.T) {
	_, err := DecodeText([]byte(`{"type":"cancel_job","job_id":"j3","extra_field":"nope"}`))

	require.Error(t, err)
	protoErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidJSON, protoErr.Code)
}

func TestEncodeText_RoundTripsStartJob(t *testing.T) {
	original := StartJob{
		Type:      TypeStartJob,
		JobID:     "j4",
		Operation: "trim",
		Input:     InputSpec{Source: "upload"},
		Options:   map[string]any{"start_time": 1.0, "end_time": 4.0},
	}

	encoded, err := EncodeText(original)
	require.NoError(t, err)

	decoded, err := DecodeText(encoded)
	require.NoError(t, err)

	msg, ok := decoded.(StartJob)
	require.True(t, ok)
	assert.Equal(t, original.JobID, msg.JobID)
	assert.Equal(t, original.Operation, msg.Operation)
	assert.Equal(t, original.Input.Source, msg.Input.Source)
	assert.InDelta(t, 4.0, msg.Options["end_time"], 0.001)
}

func TestEncodeDecodeBinaryFrame_RoundTrip(t *testing.T) {
	header := BinaryHeader{
		JobID:    "j5",
		Filename: "out.mp4",
		Metadata: map[string]any{"duration": 12.5},
	}
	payload := []byte("fake artifact bytes")

	frame, err := EncodeBinaryFrame(header, payload)
	require.NoError(t, err)

	decodedHeader, decodedPayload, err := DecodeBinaryFrame(frame)
	require.NoError(t, err)

	assert.Equal(t, header.JobID, decodedHeader.JobID)
	assert.Equal(t, header.Filename, decodedHeader.Filename)
	assert.InDelta(t, 12.5, decodedHeader.Metadata["duration"], 0.001)
	assert.Equal(t, payload, decodedPayload)
}

func TestDecodeBinaryFrame_TooShortForLengthPrefix(t *testing.T) {
	_, _, err := DecodeBinaryFrame([]byte{0, 0, 1})

	require.Error(t, err)
	protoErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidBinary, protoErr.Code)
}

func TestDecodeBinaryFrame_HeaderLengthExceedsFrame(t *testing.T) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, 9999)

	_, _, err := DecodeBinaryFrame(buf)

	require.Error(t, err)
	protoErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidBinary, protoErr.Code)
}

func TestDecodeBinaryFrame_UnparseableHeader(t *testing.T) {
	badHeader := []byte(`not json`)
	buf := make([]byte, 4+len(badHeader))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(badHeader)))
	copy(buf[4:], badHeader)

	_, _, err := DecodeBinaryFrame(buf)

	require.Error(t, err)
	protoErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidBinary, protoErr.Code)
}

func TestDecodeBinaryFrame_EmptyPayloadIsValid(t *testing.T) {
	frame, err := EncodeBinaryFrame(BinaryHeader{JobID: "j6", Filename: "thumb.png"}, nil)
	require.NoError(t, err)

	header, payload, err := DecodeBinaryFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, "j6", header.JobID)
	assert.Empty(t, payload)
}
