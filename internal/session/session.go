// Package session owns one Connection Session per WebSocket client: job
// ownership, event routing, the serialized writer, and disconnect
// cancellation, per SPEC_FULL §4.8. Adapted from the teacher's
// websocket.Hub connection-handling loop (internal/websocket/hub.go),
// generalized from pub/sub broadcast to per-connection job ownership.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/makeasinger/mediaforge/internal/job"
	"github.com/makeasinger/mediaforge/internal/logging"
	"github.com/makeasinger/mediaforge/internal/protocol"
)

// Session is one client's WebSocket connection and the set of jobs it
// has submitted to the shared Manager.
type Session struct {
	ID      string
	conn    *websocket.Conn
	manager *job.Manager
	hub     *Hub

	writeMu    sync.Mutex
	alive      atomic.Bool
	closedOnce sync.Once

	jobsMu sync.Mutex
	jobs   map[string]*job.Job

	retentionGrace time.Duration

	log zerolog.Logger
}

// New constructs a Session bound to an accepted WebSocket connection.
func New(id string, conn *websocket.Conn, manager *job.Manager, hub *Hub, retentionGrace time.Duration) *Session {
	if retentionGrace <= 0 {
		retentionGrace = 2 * time.Minute
	}
	s := &Session{
		ID:             id,
		conn:           conn,
		manager:        manager,
		hub:            hub,
		jobs:           make(map[string]*job.Job),
		retentionGrace: retentionGrace,
		log:            logging.WithComponent("session").With().Str("session_id", id).Logger(),
	}
	s.alive.Store(true)
	return s
}

// Run blocks reading frames from the connection until it closes or
// errors, dispatching each to the codec. On return, all of this
// session's non-terminal jobs are cancelled, best effort, without
// waiting for them, per SPEC_FULL §4.8 and §5.
func (s *Session) Run() {
	defer s.onDisconnect()
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.TextMessage:
			s.handleText(data)
		case websocket.BinaryMessage:
			s.handleBinary(data)
		case websocket.PingMessage:
			// gofiber/contrib/websocket answers control pings at the
			// transport layer; application-level keepalive rides the
			// ping/pong text envelopes instead.
		}
	}
}

func (s *Session) handleText(raw []byte) {
	msg, err := protocol.DecodeText(raw)
	if err != nil {
		s.sendError("", err)
		return
	}

	switch m := msg.(type) {
	case protocol.StartJob:
		s.startJob(m)
	case protocol.CancelJob:
		s.cancelJob(m)
	case protocol.Ping:
		s.writeText(protocol.Pong{Type: protocol.TypePong})
	}
}

func (s *Session) handleBinary(raw []byte) {
	header, payload, err := protocol.DecodeBinaryFrame(raw)
	if err != nil {
		s.sendError("", err)
		return
	}

	s.jobsMu.Lock()
	j, ok := s.jobs[header.JobID]
	s.jobsMu.Unlock()
	if !ok {
		s.sendError(header.JobID, protocol.NewError(protocol.CodeBinaryError, "no matching job for upload"))
		return
	}
	switch j.Status() {
	case job.StatusQueued, job.StatusDownloading:
	default:
		s.sendError(header.JobID, protocol.NewError(protocol.CodeBinaryError, "job is not expecting an upload"))
		return
	}
	if j.Upload == nil {
		s.sendError(header.JobID, protocol.NewError(protocol.CodeBinaryError, "job does not accept an upload"))
		return
	}

	select {
	case j.Upload <- job.UploadPayload{Filename: header.Filename, Data: payload}:
	default:
		s.sendError(header.JobID, protocol.NewError(protocol.CodeBinaryError, "job already has a pending upload"))
	}
}

func (s *Session) startJob(msg protocol.StartJob) {
	if err := protocol.ValidateStartJob(msg); err != nil {
		s.sendError(msg.JobID, err)
		return
	}

	s.jobsMu.Lock()
	_, collision := s.jobs[msg.JobID]
	s.jobsMu.Unlock()
	if collision {
		s.sendError(msg.JobID, protocol.NewError(protocol.CodeSubmitFailed, "job id already in use on this session"))
		return
	}

	var input job.Input
	switch msg.Input.Source {
	case "upload":
		input = job.Input{Source: job.SourceUpload}
	case "url":
		input = job.Input{Source: job.SourceURL, URL: msg.Input.URL}
	}

	j := job.New(msg.JobID, job.Operation(msg.Operation), msg.Options, input, s.ID)

	result := s.manager.Submit(j, s.onEvent)
	if !result.Accepted {
		s.sendError(msg.JobID, protocol.NewError(protocol.CodeSubmitFailed, string(result.Reason)))
		return
	}

	s.jobsMu.Lock()
	s.jobs[msg.JobID] = j
	s.jobsMu.Unlock()

	s.writeText(protocol.Ack{Type: protocol.TypeAck, JobID: msg.JobID, Message: "job accepted"})
}

func (s *Session) cancelJob(msg protocol.CancelJob) {
	result := s.manager.Cancel(msg.JobID)
	if !result.Accepted {
		s.sendError(msg.JobID, protocol.NewError(protocol.CodeCancelFailed, string(result.Reason)))
	}
}

// onEvent is passed to Submit as a method value, so the manager's queue
// entry reaches the session through this callback; the Job itself keeps
// only the session id in OwnerSession, per SPEC_FULL §9.
func (s *Session) onEvent(evt job.Event) {
	switch evt.Kind {
	case job.EventProgress:
		s.writeText(protocol.Progress{
			Type:       protocol.TypeProgress,
			JobID:      evt.JobID,
			Percentage: evt.Percent,
			Stage:      evt.Stage,
		})
	case job.EventCompleted:
		s.deliverCompletion(evt)
	case job.EventFailed, job.EventCancelled:
		code := protocol.CodeJobFailed
		if evt.Kind == job.EventCancelled {
			code = protocol.CodeJobCancelled
		}
		msg := "job failed"
		detail := ""
		if evt.Err != nil {
			if evt.Err.Code != "" {
				code = evt.Err.Code
			}
			msg = evt.Err.Message
			detail = evt.Err.Detail
		}
		s.writeText(protocol.ErrorEnvelope{Type: protocol.TypeErrorMsg, JobID: evt.JobID, Code: code, Message: msg, Details: detail})
		s.scheduleRetentionPurge(evt.JobID)
	}
}

// deliverCompletion sends the JSON completion envelope, then the binary
// artifact frame, in that order — SPEC_FULL's binary-order invariant.
// If the channel is dead, both are discarded and the temp file is simply
// not sent; the Manager removes the work directory, artifact included,
// after this callback returns.
func (s *Session) deliverCompletion(evt job.Event) {
	if !s.alive.Load() {
		return
	}

	metadata := map[string]any{}
	if evt.Metadata != nil {
		metadata["container"] = evt.Metadata.Container
		metadata["duration"] = evt.Metadata.Duration
		metadata["size"] = evt.Metadata.Size
		metadata["video_codec"] = evt.Metadata.VideoCodec
		metadata["audio_codec"] = evt.Metadata.AudioCodec
		metadata["width"] = evt.Metadata.Width
		metadata["height"] = evt.Metadata.Height
		metadata["bitrate"] = evt.Metadata.Bitrate
		metadata["fps"] = evt.Metadata.FPS
		if evt.Metadata.ArchiveURL != "" {
			metadata["archive_url"] = evt.Metadata.ArchiveURL
		}
	}

	completedErr := s.writeText(protocol.Completed{
		Type:           protocol.TypeCompleted,
		JobID:          evt.JobID,
		OutputMetadata: metadata,
		DeliveryMethod: "binary",
		Message:        "job completed",
	})
	if completedErr != nil {
		s.scheduleRetentionPurge(evt.JobID)
		return
	}

	payload, err := readArtifact(evt.OutputPath)
	if err != nil {
		s.sendError(evt.JobID, protocol.NewError(protocol.CodeOutputSendFailed, "could not read result artifact"))
		s.scheduleRetentionPurge(evt.JobID)
		return
	}

	frame, err := protocol.EncodeBinaryFrame(protocol.BinaryHeader{
		JobID:    evt.JobID,
		Filename: baseName(evt.OutputPath),
	}, payload)
	if err != nil {
		s.sendError(evt.JobID, protocol.NewError(protocol.CodeOutputSendFailed, "could not frame result artifact"))
		s.scheduleRetentionPurge(evt.JobID)
		return
	}

	if err := s.writeBinary(frame); err != nil {
		s.log.Warn().Str("job_id", evt.JobID).Err(err).Msg("failed to deliver result artifact")
	}
	s.scheduleRetentionPurge(evt.JobID)
}

func (s *Session) sendError(jobID string, err error) {
	code := protocol.CodeInternalError
	message := err.Error()
	if pe, ok := err.(*protocol.Error); ok {
		code = pe.Code
		if pe.Message != "" {
			message = pe.Message
		}
	}
	s.writeText(protocol.ErrorEnvelope{Type: protocol.TypeErrorMsg, JobID: jobID, Code: code, Message: message})
}

// writeText and writeBinary share a single mutex so a multi-part send
// (completion JSON + binary) is never interleaved with another job's
// event, per SPEC_FULL §5.
func (s *Session) writeText(msg any) error {
	data, err := protocol.EncodeText(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.alive.Load() {
		return nil
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) writeBinary(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.alive.Load() {
		return nil
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// scheduleRetentionPurge purges the job from this session's map after
// the retention grace period, so late protocol frames referencing it
// can still be reconciled in the meantime, per SPEC_FULL §3.
func (s *Session) scheduleRetentionPurge(jobID string) {
	go func() {
		time.Sleep(s.retentionGrace)
		s.jobsMu.Lock()
		delete(s.jobs, jobID)
		s.jobsMu.Unlock()
		s.manager.Purge(jobID)
	}()
}

func (s *Session) onDisconnect() {
	s.closedOnce.Do(func() {
		s.alive.Store(false)
		s.jobsMu.Lock()
		ids := make([]string, 0, len(s.jobs))
		for id, j := range s.jobs {
			if !j.Status().IsTerminal() {
				ids = append(ids, id)
			}
		}
		s.jobsMu.Unlock()

		for _, id := range ids {
			s.manager.Cancel(id)
		}
		if s.hub != nil {
			s.hub.Remove(s)
		}
		s.log.Info().Int("cancelled_jobs", len(ids)).Msg("session disconnected")
	})
}
