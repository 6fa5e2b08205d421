// Package protocol frames the WebSocket wire protocol: JSON text
// envelopes (one Go type per message type) and length-prefixed binary
// frames correlating uploads/downloads with jobs, per SPEC_FULL §6.
package protocol

// MessageType is the closed set of envelope discriminators.
type MessageType string

const (
	TypeStartJob  MessageType = "start_job"
	TypeCancelJob MessageType = "cancel_job"
	TypePing      MessageType = "ping"

	TypeAck       MessageType = "ack"
	TypeProgress  MessageType = "progress"
	TypeCompleted MessageType = "completed"
	TypeErrorMsg  MessageType = "error"
	TypePong      MessageType = "pong"
)

// InputSpec is the inbound start_job envelope's input descriptor.
type InputSpec struct {
	Source string `json:"source"`
	URL    string `json:"url,omitempty"`
}

// StartJob is the inbound request to enqueue a new job.
type StartJob struct {
	Type      MessageType    `json:"type"`
	JobID     string         `json:"job_id"`
	Operation string         `json:"operation"`
	Input     InputSpec      `json:"input"`
	Options   map[string]any `json:"options"`
}

// CancelJob is the inbound request to cancel an outstanding job.
type CancelJob struct {
	Type  MessageType `json:"type"`
	JobID string      `json:"job_id"`
}

// Ping is the inbound keepalive probe.
type Ping struct {
	Type MessageType `json:"type"`
}

// Ack acknowledges a successfully submitted job.
type Ack struct {
	Type    MessageType `json:"type"`
	JobID   string      `json:"job_id"`
	Message string      `json:"message"`
}

// Progress reports a job's current stage and percentage.
type Progress struct {
	Type          MessageType `json:"type"`
	JobID         string      `json:"job_id"`
	Percentage    int         `json:"percentage"`
	Stage         string      `json:"stage"`
	ProcessingLog string      `json:"processing_log,omitempty"`
}

// Completed announces a successful terminal transition; the binary
// artifact frame follows immediately after, per SPEC_FULL §4.8.
type Completed struct {
	Type           MessageType    `json:"type"`
	JobID          string         `json:"job_id"`
	OutputMetadata map[string]any `json:"output_metadata"`
	DeliveryMethod string         `json:"delivery_method"`
	Message        string         `json:"message"`
}

// ErrorEnvelope is the outbound error envelope, carrying a taxonomy
// code from SPEC_FULL §7.
type ErrorEnvelope struct {
	Type    MessageType `json:"type"`
	JobID   string      `json:"job_id,omitempty"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details string      `json:"details,omitempty"`
}

// Pong answers a Ping.
type Pong struct {
	Type MessageType `json:"type"`
}

// BinaryHeader is the JSON header prefixing every binary frame, for both
// inbound uploads and outbound artifact delivery.
type BinaryHeader struct {
	JobID    string         `json:"job_id"`
	Filename string         `json:"filename"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
