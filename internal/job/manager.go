package job

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/makeasinger/mediaforge/internal/archive"
	"github.com/makeasinger/mediaforge/internal/ffmpeg"
	"github.com/makeasinger/mediaforge/internal/logging"
)

// RejectReason enumerates why Submit or Cancel refused a request.
type RejectReason string

const (
	RejectQueueFull      RejectReason = "queue_full"
	RejectIDCollision    RejectReason = "id_collision"
	RejectNotFound       RejectReason = "not_found"
	RejectAlreadyTerminal RejectReason = "already_terminal"
)

// SubmitResult is the outcome of Manager.Submit.
type SubmitResult struct {
	Accepted bool
	Reason   RejectReason
}

// CancelResult is the outcome of Manager.Cancel.
type CancelResult struct {
	Accepted bool
	Reason   RejectReason
}

// Stats is a snapshot of the manager's queue and worker occupancy.
type Stats struct {
	Total         int
	Active        int
	Queued        int
	MaxConcurrent int
}

// Config bundles the Manager's tunables, sourced from the process
// config at construction time — SPEC_FULL §4.9's immutable record,
// never read from global state.
type Config struct {
	Workers       int
	QueueCap      int
	WorkRoot      string
	JobTimeout    time.Duration
	FFmpegPath    string
	ProbePath     string
	ThreadHint    int
	MaxUploadBytes int64
	RetentionGrace time.Duration

	// Archiver is optional; when set, a completed job's artifact is also
	// uploaded to it after the probe step, best effort.
	Archiver *archive.Store
}

// Manager owns the bounded queue, the worker pool, and the per-job
// registry it retains for a grace period after completion so late
// protocol frames can still be reconciled, per SPEC_FULL §3.
type Manager struct {
	cfg     Config
	backend Backend

	supervisor *ffmpeg.Supervisor
	prober     *ffmpeg.Prober
	stager     *Stager

	mu   sync.Mutex
	jobs map[string]*Job

	log zerolog.Logger

	activeCount int32
	started     bool
}

func NewManager(cfg Config, backend Backend) *Manager {
	if cfg.RetentionGrace == 0 {
		cfg.RetentionGrace = 2 * time.Minute
	}
	return &Manager{
		cfg:        cfg,
		backend:    backend,
		supervisor: ffmpeg.NewSupervisor(cfg.FFmpegPath),
		prober:     ffmpeg.NewProber(cfg.ProbePath),
		stager:     NewStager(cfg.MaxUploadBytes),
		jobs:       make(map[string]*Job),
		log:        logging.WithComponent("job-manager"),
	}
}

// Start launches the worker pool. Safe to call once.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()
	return m.backend.Start(m.cfg.Workers, m.handleEntry)
}

// Stop shuts the backend down.
func (m *Manager) Stop() {
	m.backend.Stop()
}

// Submit validates queue depth and, on acceptance, registers and
// enqueues the job, returning immediately.
func (m *Manager) Submit(j *Job, onEvent EventCallback) SubmitResult {
	m.mu.Lock()
	if _, exists := m.jobs[j.ID]; exists {
		m.mu.Unlock()
		return SubmitResult{Accepted: false, Reason: RejectIDCollision}
	}
	m.jobs[j.ID] = j
	m.mu.Unlock()

	if err := m.backend.Submit(&Entry{Job: j, OnEvent: onEvent}); err != nil {
		m.mu.Lock()
		delete(m.jobs, j.ID)
		m.mu.Unlock()
		return SubmitResult{Accepted: false, Reason: RejectQueueFull}
	}
	return SubmitResult{Accepted: true}
}

// Cancel fires the job's cancel signal if it is known and non-terminal.
func (m *Manager) Cancel(jobID string) CancelResult {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return CancelResult{Accepted: false, Reason: RejectNotFound}
	}
	if j.Status().IsTerminal() {
		return CancelResult{Accepted: false, Reason: RejectAlreadyTerminal}
	}
	j.Cancel()
	return CancelResult{Accepted: true}
}

// Stats reports current queue and worker occupancy.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	total := len(m.jobs)
	m.mu.Unlock()
	return Stats{
		Total:         total,
		Active:        int(atomic.LoadInt32(&m.activeCount)),
		Queued:        m.backend.Len(),
		MaxConcurrent: m.cfg.Workers,
	}
}

// Purge removes a job from the registry, called by the owning session
// once its retention grace period has elapsed.
func (m *Manager) Purge(jobID string) {
	m.mu.Lock()
	delete(m.jobs, jobID)
	m.mu.Unlock()
}

// handleEntry is invoked once per claimed queue entry, on a worker
// goroutine. It guarantees work-dir cleanup on every exit path,
// including a panic in any downstream stage — one job's fault never
// takes down the pool or another job, per SPEC_FULL §4.6 / §7.
func (m *Manager) handleEntry(entry *Entry) {
	atomic.AddInt32(&m.activeCount, 1)
	defer atomic.AddInt32(&m.activeCount, -1)

	j := entry.Job
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("job_id", j.ID).Interface("panic", r).Msg("worker panic recovered")
			j.Fail(&JobError{Code: "INTERNAL_ERROR", Message: "internal worker fault"})
			m.emitTerminal(entry)
		}
	}()

	workDir, err := m.acquireWorkDir(j.ID)
	if err != nil {
		j.Fail(&JobError{Code: "INTERNAL_ERROR", Message: "could not create work directory", Detail: err.Error()})
		m.emitTerminal(entry)
		return
	}
	j.WorkDir = workDir
	defer m.releaseWorkDir(workDir)

	if !j.Transition(StatusDownloading) {
		m.emitTerminal(entry)
		return
	}

	onDownloadProgress := func(pct int) {
		j.SetProgress(pct)
		m.emitProgress(entry, "downloading")
	}

	var inputPath string
	var serr error
	var streamCopyCompatible bool
	if j.Operation == OpConcat {
		var concatPaths []string
		concatPaths, serr = m.stager.StageConcat(j, workDir, onDownloadProgress, j.CancelSignal())
		if serr == nil {
			j.ConcatPaths = concatPaths
			inputPath = concatPaths[0]
			streamCopyCompatible = m.concatInputsCompatible(context.Background(), concatPaths)
		}
	} else {
		inputPath, serr = m.stager.Stage(j, workDir, onDownloadProgress, j.CancelSignal())
	}
	if serr != nil {
		m.failOrCancel(j, serr, entry)
		return
	}
	j.InputPath = inputPath

	if !j.Transition(StatusProcessing) {
		m.emitTerminal(entry)
		return
	}

	plan, perr := ffmpeg.Synthesize(ffmpeg.Request{
		Operation:            j.Operation,
		Options:              j.Options,
		InputPath:            inputPath,
		ConcatInputs:         j.ConcatPaths,
		StreamCopyCompatible: streamCopyCompatible,
		ThreadHint:           m.cfg.ThreadHint,
	})
	if perr != nil {
		j.Fail(&JobError{Code: "JOB_FAILED", Message: "command synthesis failed", Detail: perr.Error()})
		m.emitTerminal(entry)
		return
	}

	result := m.supervisor.Run(context.Background(), plan.Argv, workDir, 500*time.Millisecond,
		func(pct int) {
			// Processing occupies the 5-100% band; the supervisor's
			// own percent is rescaled accordingly.
			j.SetProgress(5 + pct*95/100)
			m.emitProgress(entry, "processing")
		}, j.CancelSignal(), m.cfg.JobTimeout)

	if plan.TwoPass && result.OK {
		result = m.supervisor.Run(context.Background(), plan.SecondPassArgv, workDir, 500*time.Millisecond,
			func(pct int) {
				j.SetProgress(5 + pct*95/100)
				m.emitProgress(entry, "processing")
			}, j.CancelSignal(), m.cfg.JobTimeout)
	}

	if !result.OK {
		m.failFromSupervisorResult(j, result, entry)
		return
	}

	outputPath := plan.OutputPaths[0]
	j.OutputPath = outputPath

	md := m.prober.Probe(context.Background(), outputPath)
	m.archiveArtifact(j, outputPath, &md)

	if !j.Transition(StatusUploading) {
		m.emitTerminal(entry)
		return
	}

	j.SetProgress(100)
	if !j.Transition(StatusCompleted) {
		m.emitTerminal(entry)
		return
	}

	if entry.OnEvent != nil {
		entry.OnEvent(Event{
			Kind:       EventCompleted,
			JobID:      j.ID,
			Status:     StatusCompleted,
			Percent:    100,
			Metadata:   &md,
			OutputPath: outputPath,
		})
	}
}

func (m *Manager) failOrCancel(j *Job, serr error, entry *Entry) {
	if j.WasCancelled() {
		j.Transition(StatusCancelled)
	} else if je, ok := serr.(*JobError); ok {
		j.Fail(je)
	} else {
		j.Fail(&JobError{Code: "JOB_FAILED", Message: serr.Error()})
	}
	m.emitTerminal(entry)
}

func (m *Manager) failFromSupervisorResult(j *Job, result ffmpeg.Result, entry *Entry) {
	switch result.Reason {
	case ffmpeg.ReasonCancelled:
		j.Transition(StatusCancelled)
	default:
		j.Fail(&JobError{
			Code:    "JOB_FAILED",
			Message: fmt.Sprintf("transcoder failed: %s", result.Reason),
			Detail:  result.StderrTail,
		})
	}
	m.emitTerminal(entry)
}

func (m *Manager) emitProgress(entry *Entry, stage string) {
	if entry.OnEvent == nil {
		return
	}
	entry.OnEvent(Event{
		Kind:    EventProgress,
		JobID:   entry.Job.ID,
		Status:  entry.Job.Status(),
		Percent: entry.Job.Progress(),
		Stage:   stage,
	})
}

func (m *Manager) emitTerminal(entry *Entry) {
	if entry.OnEvent == nil {
		return
	}
	j := entry.Job
	kind := EventFailed
	if j.Status() == StatusCancelled {
		kind = EventCancelled
	}
	entry.OnEvent(Event{
		Kind:   kind,
		JobID:  j.ID,
		Status: j.Status(),
		Err:    j.Err(),
	})
}

// archiveArtifact uploads the completed artifact to the configured
// archiver, if any, and records the resulting URL on md. A failed
// upload is logged and otherwise ignored: archival never blocks or
// fails the job, per SPEC_FULL §4.13.
func (m *Manager) archiveArtifact(j *Job, outputPath string, md *Metadata) {
	if m.cfg.Archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archive.UploadTimeout())
	defer cancel()

	key := fmt.Sprintf("jobs/%s/%s", j.ID, filepath.Base(outputPath))
	url, err := m.cfg.Archiver.UploadFile(ctx, key, outputPath, "application/octet-stream")
	if err != nil {
		m.log.Warn().Str("job_id", j.ID).Err(err).Msg("artifact archival failed")
		return
	}
	md.ArchiveURL = url
}

// concatInputsCompatible probes every staged concat input and reports
// whether they all share the same video codec, audio codec, and
// container, in which case the synthesizer can stream-copy them
// losslessly instead of re-encoding through filter-concat, per
// SPEC_FULL §4.1.
func (m *Manager) concatInputsCompatible(ctx context.Context, paths []string) bool {
	if len(paths) < 2 {
		return false
	}
	first := m.prober.Probe(ctx, paths[0])
	for _, p := range paths[1:] {
		md := m.prober.Probe(ctx, p)
		if md.VideoCodec != first.VideoCodec || md.AudioCodec != first.AudioCodec || md.Container != first.Container {
			return false
		}
	}
	return true
}

func (m *Manager) acquireWorkDir(jobID string) (string, error) {
	dir := filepath.Join(m.cfg.WorkRoot, jobID+"-"+uuid.NewString()[:8])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (m *Manager) releaseWorkDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		m.log.Error().Str("dir", dir).Err(err).Msg("failed to remove work directory")
	}
}
