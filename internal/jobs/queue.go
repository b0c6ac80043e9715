// Package jobs provides an in-memory queue for long-running operations
// such as large bulk batches. Callers enqueue a job and poll its status
// instead of holding a request open.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Job statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Job is one queued unit of work and its lifecycle state.
type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Status      string          `json:"status"`
	Progress    float64         `json:"progress"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Handler executes one kind of job and returns its output payload.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Queue holds jobs and dispatches them to registered handlers in
// background goroutines.
type Queue struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	handlers map[string]Handler
	now      func() time.Time
}

// NewQueue creates an empty queue with no handlers registered.
func NewQueue() *Queue {
	return &Queue{
		jobs:     make(map[string]*Job),
		handlers: make(map[string]Handler),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RegisterHandler binds a job kind to its executor.
func (q *Queue) RegisterHandler(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
	log.Info().Str("kind", kind).Msg("job handler registered")
}

// Enqueue records a new job and starts processing it in the background.
// The job runs on a context detached from the request's cancellation so
// it survives the response, while keeping the request's values (actor,
// request ID) for audit attribution.
func (q *Queue) Enqueue(ctx context.Context, kind string, args json.RawMessage) (Job, error) {
	q.mu.Lock()
	h, ok := q.handlers[kind]
	if !ok {
		q.mu.Unlock()
		return Job{}, fmt.Errorf("no handler for job kind %q", kind)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    StatusQueued,
		CreatedAt: q.now(),
	}
	q.jobs[job.ID] = job
	q.mu.Unlock()

	log.Info().Str("job_id", job.ID).Str("kind", kind).Msg("job enqueued")
	go q.process(context.WithoutCancel(ctx), job.ID, h, args)
	return *job, nil
}

func (q *Queue) process(ctx context.Context, id string, h Handler, args json.RawMessage) {
	started := q.now()
	q.update(id, func(j *Job) {
		j.Status = StatusRunning
		j.Progress = 0.1
		j.StartedAt = &started
	})

	out, err := h(ctx, args)
	completed := q.now()
	if err != nil {
		q.update(id, func(j *Job) {
			j.Status = StatusFailed
			j.Error = err.Error()
			j.CompletedAt = &completed
		})
		log.Error().Err(err).Str("job_id", id).Msg("job failed")
		return
	}
	q.update(id, func(j *Job) {
		j.Status = StatusSucceeded
		j.Progress = 1.0
		j.Output = out
		j.CompletedAt = &completed
	})
	log.Info().Str("job_id", id).Msg("job succeeded")
}

func (q *Queue) update(id string, fn func(*Job)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j, ok := q.jobs[id]; ok {
		fn(j)
	}
}

// Get returns a copy of the job, or false when the ID is unknown.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}
