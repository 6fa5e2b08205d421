// Package job implements the job lifecycle: the per-job state machine,
// the bounded worker pool that drains the queue, input staging, and the
// background cleanup sweeper.
package job

import (
	"sync"
	"time"

	"github.com/makeasinger/mediaforge/internal/ffmpeg"
)

// Status is one node in the job state machine. The sequence is monotone:
// a job never observes an earlier status after a later one.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusProcessing  Status = "processing"
	StatusUploading   Status = "uploading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// IsTerminal reports whether a status ends the job's lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// transitions enumerates the state machine's allowed edges, per SPEC_FULL
// §4.5. Cancel and failure edges are handled separately in Job.Transition
// since they apply uniformly from any non-terminal state.
var transitions = map[Status][]Status{
	StatusQueued:      {StatusDownloading},
	StatusDownloading: {StatusProcessing},
	StatusProcessing:  {StatusUploading},
	StatusUploading:   {StatusCompleted},
}

// Operation is the closed set of transcoder operations the synthesizer
// understands. Defined in package ffmpeg (the synthesizer owns the
// operation set); aliased here since jobs carry an Operation.
type Operation = ffmpeg.Operation

const (
	OpSpeed           = ffmpeg.OpSpeed
	OpCompress        = ffmpeg.OpCompress
	OpExtractAudio    = ffmpeg.OpExtractAudio
	OpRemoveAudio     = ffmpeg.OpRemoveAudio
	OpConvert         = ffmpeg.OpConvert
	OpThumbnail       = ffmpeg.OpThumbnail
	OpTrim            = ffmpeg.OpTrim
	OpConcat          = ffmpeg.OpConcat
	OpGif             = ffmpeg.OpGif
	OpFilter          = ffmpeg.OpFilter
	OpSubtitleExtract = ffmpeg.OpSubtitleExtract
	OpSubtitleBurn    = ffmpeg.OpSubtitleBurn
)

// ValidOperations is the closed set a start_job envelope may name.
var ValidOperations = ffmpeg.ValidOperations

// InputSource distinguishes how a job's input material arrives.
type InputSource string

const (
	SourceUpload InputSource = "upload"
	SourceURL    InputSource = "url"
)

// Input describes where a job's source media comes from.
type Input struct {
	Source   InputSource
	URL      string // set when Source == SourceURL
	Filename string // optional client-supplied name; uploads take their stored name from the binary frame header
}

// JobError carries the taxonomy code surfaced in the protocol's error
// envelope alongside a human-readable message and optional detail.
type JobError struct {
	Code    string
	Message string
	Detail  string
}

func (e *JobError) Error() string { return e.Message }

// Metadata is the structured result of probing an output file. Defined
// in package ffmpeg (the prober owns the probe result shape); aliased
// here since jobs carry output Metadata.
type Metadata = ffmpeg.Metadata

// EventCallback is invoked by a worker on every status transition and
// progress update. It is captured at submit time and held by the queue
// entry, not the Job; the Job refers to its session only by the id in
// OwnerSession.
type EventCallback func(evt Event)

// EventKind distinguishes the shape of an Event.
type EventKind int

const (
	EventProgress EventKind = iota
	EventCompleted
	EventFailed
	EventCancelled
)

// Event is a single lifecycle notification routed from a worker back to
// the owning session.
type Event struct {
	Kind       EventKind
	JobID      string
	Status     Status
	Percent    int
	Stage      string
	Log        string
	Metadata   *Metadata
	OutputPath string
	Err        *JobError
}

// Job is one unit of work: an operation applied to one input, producing
// one artifact. Its zero value is not usable; construct via New.
type Job struct {
	mu sync.Mutex

	ID        string
	Operation Operation
	Options   map[string]any
	Input     Input

	status          Status
	progressPercent int

	CreatedAt  time.Time
	startedAt  time.Time
	finishedAt time.Time

	WorkDir    string
	InputPath  string
	OutputPath string

	// ConcatPaths holds every staged local input path for a concat job,
	// in order, InputPath duplicating the first entry. Empty for every
	// other operation.
	ConcatPaths []string

	jobErr *JobError

	cancel      chan struct{}
	cancelOnce  sync.Once
	cancelled   bool

	// OwnerSession is an id only, never a pointer back to the session —
	// the manager routes events through a callback captured at submit
	// time, so the job does not need to keep the session alive.
	OwnerSession string

	// Upload is the single-slot rendezvous used when Input.Source ==
	// SourceUpload. nil for URL-sourced jobs.
	Upload chan UploadPayload
}

// UploadPayload is the binary frame payload delivered to a job's upload
// rendezvous by the protocol/session layer.
type UploadPayload struct {
	Filename string
	Data     []byte
}

// New constructs a queued Job with a fresh cancel signal.
func New(id string, op Operation, options map[string]any, input Input, ownerSession string) *Job {
	j := &Job{
		ID:           id,
		Operation:    op,
		Options:      options,
		Input:        input,
		status:       StatusQueued,
		CreatedAt:    time.Now(),
		cancel:       make(chan struct{}),
		OwnerSession: ownerSession,
	}
	if input.Source == SourceUpload {
		j.Upload = make(chan UploadPayload, 1)
	}
	return j
}

// Status returns the job's current status under lock.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Progress returns the job's current progress percentage under lock.
func (j *Job) Progress() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progressPercent
}

// StartedAt and FinishedAt report the zero time until set.
func (j *Job) StartedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.startedAt
}

func (j *Job) FinishedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finishedAt
}

// Err returns the job's terminal error, if any.
func (j *Job) Err() *JobError {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jobErr
}

// CancelSignal returns the channel closed exactly once when Cancel fires.
func (j *Job) CancelSignal() <-chan struct{} {
	return j.cancel
}

// Cancel fires the one-shot cancel signal. Idempotent: a second call is a
// no-op and does not produce a second state transition.
func (j *Job) Cancel() {
	j.cancelOnce.Do(func() {
		j.mu.Lock()
		j.cancelled = true
		j.mu.Unlock()
		close(j.cancel)
	})
}

// WasCancelled reports whether Cancel has been invoked, regardless of
// whether the transition to Cancelled has completed yet.
func (j *Job) WasCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// Transition moves the job to a new status, validating the edge against
// the state machine table. Cancel and Fail edges are accepted from any
// non-terminal status. Returns false if the edge is invalid or the job
// is already terminal.
func (j *Job) Transition(to Status) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.IsTerminal() {
		return false
	}

	switch to {
	case StatusCancelled, StatusFailed:
		j.status = to
		j.finishedAt = time.Now()
		return true
	}

	allowed := transitions[j.status]
	valid := false
	for _, s := range allowed {
		if s == to {
			valid = true
			break
		}
	}
	if !valid {
		return false
	}

	if j.status == StatusQueued {
		j.startedAt = time.Now()
	}
	j.status = to
	if to.IsTerminal() {
		j.finishedAt = time.Now()
	}
	return true
}

// Fail transitions the job to Failed and records the error.
func (j *Job) Fail(jobErr *JobError) {
	j.mu.Lock()
	j.jobErr = jobErr
	j.mu.Unlock()
	j.Transition(StatusFailed)
}

// SetProgress updates progress, clamped to [0,100] and never regressed
// downward within the current status, per SPEC_FULL §4.2 / §9.
func (j *Job) SetProgress(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if percent > j.progressPercent {
		j.progressPercent = percent
	}
}

// Snapshot is an immutable copy of a Job's externally visible fields,
// safe to read without holding the job's lock.
type Snapshot struct {
	ID         string
	Operation  Operation
	Status     Status
	Percent    int
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Err        *JobError
}

// Snap takes a consistent snapshot of the job's observable state.
func (j *Job) Snap() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		ID:         j.ID,
		Operation:  j.Operation,
		Status:     j.status,
		Percent:    j.progressPercent,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
		Err:        j.jobErr,
	}
}
