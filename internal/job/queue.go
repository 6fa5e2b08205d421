package job

import "errors"

// ErrQueueFull is returned by Submit when the backend's capacity (where
// applicable) has been exceeded.
var ErrQueueFull = errors.New("queue full")

// Entry is a reference to a Job plus the session's event callback,
// dropped from the queue once a worker claims it — the Job itself
// remains reachable via the session's map, per SPEC_FULL §3.
type Entry struct {
	Job      *Job
	OnEvent  EventCallback
}

// Backend abstracts where queued entries come from: an in-process,
// channel-backed FIFO (the default) or a durable, Redis/asynq-backed
// queue. SPEC_FULL §1 treats a durable broker as an interchangeable
// implementation of this same interface, so the Manager only ever
// depends on Backend.
type Backend interface {
	// Start launches the backend's dispatch loop(s) in the background,
	// invoking handle for each claimed entry exactly once, and returns
	// immediately.
	Start(workers int, handle func(*Entry)) error
	// Stop shuts the backend down, allowing in-flight handle calls to
	// finish.
	Stop()
	// Submit enqueues an entry. Returns ErrQueueFull if the backend is
	// at capacity.
	Submit(entry *Entry) error
	// Len reports the current queue depth.
	Len() int
	// Cap reports the backend's configured capacity, or 0 if unbounded.
	Cap() int
}
