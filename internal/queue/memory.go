package queue

import (
	"context"
	"sync"
	"time"

	"github.com/janakkhadka100/fb-post-ai/internal/post"
)

type memoryJob struct {
	Job
	result     *Result
	finishedAt time.Time
	leaseUntil time.Time
}

// MemoryQueue is a single-process Queue. It is used when no Redis is
// configured and in tests.
type MemoryQueue struct {
	mu        sync.Mutex
	jobs      map[string]*memoryJob
	seq       int64
	now       func() time.Time
	retention time.Duration
	lease     time.Duration
}

type MemoryOption func(*MemoryQueue)

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(q *MemoryQueue) { q.now = now }
}

func WithMemoryRetention(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) { q.retention = d }
}

func WithMemoryLease(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) { q.lease = d }
}

func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		jobs:      make(map[string]*memoryJob),
		now:       time.Now,
		retention: DefaultCompletedRetention,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.lease <= 0 {
		q.lease = DefaultClaimLease
	}
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, job post.PublishJob, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}
	id := job.Key()
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	if prev, ok := q.jobs[id]; ok && prev.State == StateActive && prev.leaseUntil.After(now) {
		return "", ErrJobActive
	}
	q.seq++
	q.jobs[id] = &memoryJob{Job: Job{
		ID:          id,
		Payload:     job,
		MaxAttempts: normalizeMaxAttempts(job.MaxAttempts),
		ReadyAt:     now.Add(delay),
		EnqueuedAt:  now,
		Seq:         q.seq,
		State:       StateDelayed,
	}}
	return id, nil
}

func (q *MemoryQueue) Cancel(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok || !j.pending() {
		return false, nil
	}
	delete(q.jobs, id)
	return true, nil
}

func (q *MemoryQueue) Status(_ context.Context, id string) (Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.expire(now)
	j, ok := q.jobs[id]
	if !ok {
		return Status{}, ErrJobNotFound
	}
	st := Status{
		ID:           j.ID,
		State:        j.State,
		RequestID:    j.Payload.RequestID,
		VariantID:    j.Payload.VariantID,
		PageID:       j.Payload.PageID,
		AttemptsMade: j.AttemptsMade,
		MaxAttempts:  j.MaxAttempts,
		ScheduledFor: j.Payload.ScheduledFor,
		ReadyAt:      j.ReadyAt,
		FailedReason: j.FailedReason,
		Result:       j.result,
	}
	if j.pending() {
		st.State = pendingState(j.ReadyAt, now)
	}
	return st, nil
}

func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.expire(now)
	var s Stats
	for _, j := range q.jobs {
		switch {
		case j.pending() && pendingState(j.ReadyAt, now) == StateWaiting:
			s.Waiting++
		case j.pending():
			s.Delayed++
		case j.State == StateActive:
			s.Active++
		case j.State == StateCompleted:
			s.Completed++
		case j.State == StateFailed:
			s.Failed++
		}
	}
	s.sum()
	return s, nil
}

func (q *MemoryQueue) Claim(_ context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.reclaimStalled(now)

	var next *memoryJob
	for _, j := range q.jobs {
		if !j.pending() || j.ReadyAt.After(now) {
			continue
		}
		if next == nil || j.ReadyAt.Before(next.ReadyAt) || (j.ReadyAt.Equal(next.ReadyAt) && j.Seq < next.Seq) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}
	next.State = StateActive
	next.leaseUntil = now.Add(q.lease)
	claimed := next.Job
	return &claimed, nil
}

func (q *MemoryQueue) Complete(_ context.Context, id string, result Result) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, err := q.active(id)
	if err != nil {
		return err
	}
	now := q.now()
	if result.CompletedAt.IsZero() {
		result.CompletedAt = now
	}
	j.AttemptsMade++
	j.State = StateCompleted
	j.FailedReason = ""
	j.result = &result
	j.finishedAt = now
	j.Payload = post.PublishJob{
		RequestID:    j.Payload.RequestID,
		VariantID:    j.Payload.VariantID,
		PageID:       j.Payload.PageID,
		ScheduledFor: j.Payload.ScheduledFor,
	}
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, id string, delay time.Duration, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, err := q.active(id)
	if err != nil {
		return err
	}
	if delay < 0 {
		delay = 0
	}
	q.seq++
	j.AttemptsMade++
	j.State = StateDelayed
	j.FailedReason = reason
	j.ReadyAt = q.now().Add(delay)
	j.Seq = q.seq
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, id string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, err := q.active(id)
	if err != nil {
		return err
	}
	j.AttemptsMade++
	j.State = StateFailed
	j.FailedReason = reason
	j.finishedAt = q.now()
	j.Payload = scrub(j.Payload)
	return nil
}

func (q *MemoryQueue) active(id string) (*memoryJob, error) {
	j, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if j.State != StateActive {
		return nil, ErrNotActive
	}
	return j, nil
}

// reclaimStalled settles active jobs whose lease ran out. Caller holds mu.
func (q *MemoryQueue) reclaimStalled(now time.Time) {
	for _, j := range q.jobs {
		if j.State != StateActive || j.leaseUntil.After(now) {
			continue
		}
		j.AttemptsMade++
		j.FailedReason = StalledReason
		if j.AttemptsMade >= j.MaxAttempts {
			j.State = StateFailed
			j.finishedAt = now
			j.Payload = scrub(j.Payload)
			continue
		}
		q.seq++
		j.State = StateDelayed
		j.ReadyAt = now
		j.Seq = q.seq
	}
}

// expire drops completed records past retention. Caller holds mu.
func (q *MemoryQueue) expire(now time.Time) {
	if q.retention <= 0 {
		return
	}
	for id, j := range q.jobs {
		if j.State == StateCompleted && now.Sub(j.finishedAt) >= q.retention {
			delete(q.jobs, id)
		}
	}
}

// pending jobs are stored as delayed and reported as waiting once due.
func (j *memoryJob) pending() bool {
	return j.State == StateDelayed || j.State == StateWaiting
}

func pendingState(readyAt, now time.Time) State {
	if readyAt.After(now) {
		return StateDelayed
	}
	return StateWaiting
}
