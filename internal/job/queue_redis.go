package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/makeasinger/mediaforge/internal/logging"
)

// taskTypeProcess is the asynq task type used to dispatch a queued
// entry to a worker.
const taskTypeProcess = "job:process"

// taskPayload is the serialized form of an Entry placed on the durable
// queue. Job and EventCallback values don't survive a trip through
// Redis, so the payload carries only the job id; RedisBackend resolves
// it back to the live Entry via an in-process registry populated at
// Submit time. This mirrors how a real durable deployment would look up
// job state from a shared store instead — SPEC_FULL's Non-goals exclude
// persisting job state across restarts, so this registry is allowed to
// be in-memory.
type taskPayload struct {
	JobID string `json:"job_id"`
}

// RedisBackend is a durable, asynq/Redis-backed alternative to
// MemoryBackend, demonstrating that the queue abstraction in SPEC_FULL
// §1 is genuinely interchangeable. Grounded on the teacher's asynq
// worker (internal/worker/render_worker.go): a client enqueues tasks, a
// server with a registered handler drains them.
type RedisBackend struct {
	client *asynq.Client
	server *asynq.Server
	queueName string

	mu       sync.Mutex
	pending  map[string]*Entry
}

// RedisBackendConfig configures the Redis connection backing the queue.
type RedisBackendConfig struct {
	Addr      string
	Password  string
	DB        int
	QueueName string
}

// NewRedisBackend constructs a durable queue backend. Cap() always
// reports 0 (unbounded) since asynq enforces backpressure via its own
// queue-length limits rather than a simple counter.
func NewRedisBackend(cfg RedisBackendConfig) *RedisBackend {
	queueName := cfg.QueueName
	if queueName == "" {
		queueName = "default"
	}
	redisOpt := asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	return &RedisBackend{
		client:    asynq.NewClient(redisOpt),
		server:    asynq.NewServer(redisOpt, asynq.Config{Queues: map[string]int{queueName: 1}}),
		queueName: queueName,
		pending:   make(map[string]*Entry),
	}
}

func (r *RedisBackend) Start(workers int, handle func(*Entry)) error {
	log := logging.WithComponent("redis-queue")
	mux := asynq.NewServeMux()
	mux.HandleFunc(taskTypeProcess, func(ctx context.Context, t *asynq.Task) error {
		var p taskPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("decode task payload: %w", err)
		}
		r.mu.Lock()
		entry, ok := r.pending[p.JobID]
		delete(r.pending, p.JobID)
		r.mu.Unlock()
		if !ok {
			log.Warn().Str("job_id", p.JobID).Msg("no pending entry for dequeued task")
			return nil
		}
		handle(entry)
		return nil
	})
	// asynq.Server.Run blocks, so it runs in its own goroutine and Start
	// returns at once, the same shape as an in-process worker pool from
	// the manager's point of view.
	go func() {
		if err := r.server.Run(mux); err != nil {
			log.Error().Err(err).Msg("asynq server stopped")
		}
	}()
	return nil
}

func (r *RedisBackend) Stop() {
	r.server.Shutdown()
	r.client.Close()
}

func (r *RedisBackend) Submit(entry *Entry) error {
	r.mu.Lock()
	r.pending[entry.Job.ID] = entry
	r.mu.Unlock()

	payload, err := json.Marshal(taskPayload{JobID: entry.Job.ID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskTypeProcess, payload)
	if _, err := r.client.Enqueue(task, asynq.Queue(r.queueName)); err != nil {
		r.mu.Lock()
		delete(r.pending, entry.Job.ID)
		r.mu.Unlock()
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

func (r *RedisBackend) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *RedisBackend) Cap() int { return 0 }
