// Package queue holds publish jobs until their scheduled time and hands
// them to workers one at a time.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/janakkhadka100/fb-post-ai/internal/post"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobActive rejects replacing a job a worker already holds.
	ErrJobActive = errors.New("job is active")
	// ErrNotActive is returned when settling a job that is not claimed.
	ErrNotActive = errors.New("job is not active")
)

// DefaultCompletedRetention is how long a completed job stays queryable.
const DefaultCompletedRetention = 24 * time.Hour

// DefaultClaimLease bounds how long a claimed job may stay unsettled before
// the next Claim treats its worker as dead.
const DefaultClaimLease = 5 * time.Minute

// StalledReason is recorded on jobs whose claim lease ran out.
const StalledReason = "stalled: claim lease expired"

type Result struct {
	PostID      string    `json:"postId"`
	DryRun      bool      `json:"dryRun"`
	CompletedAt time.Time `json:"completedAt"`
}

// Job is a claimed unit of work. AttemptsMade counts finished attempts,
// so the attempt in progress is number AttemptsMade+1.
type Job struct {
	ID           string
	Payload      post.PublishJob
	AttemptsMade int
	MaxAttempts  int
	ReadyAt      time.Time
	EnqueuedAt   time.Time
	Seq          int64
	State        State
	FailedReason string
}

// LastAttempt reports whether a failure of the current attempt exhausts the budget.
func (j *Job) LastAttempt() bool {
	return j.AttemptsMade+1 >= j.MaxAttempts
}

type Status struct {
	ID           string    `json:"id"`
	State        State     `json:"state"`
	RequestID    string    `json:"requestId"`
	VariantID    string    `json:"variantId"`
	PageID       string    `json:"pageId"`
	AttemptsMade int       `json:"attemptsMade"`
	MaxAttempts  int       `json:"maxAttempts"`
	ScheduledFor time.Time `json:"scheduledFor"`
	ReadyAt      time.Time `json:"readyAt"`
	FailedReason string    `json:"failedReason,omitempty"`
	Result       *Result   `json:"result,omitempty"`
}

type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Total     int64 `json:"total"`
}

func (s *Stats) sum() {
	s.Total = s.Waiting + s.Active + s.Completed + s.Failed + s.Delayed
}

// Queue is a delayed job queue with one job per key. All mutations are
// atomic with respect to concurrent workers.
type Queue interface {
	// Enqueue stores job under job.Key(), replacing a pending job with the
	// same key. It returns ErrJobActive if that key is claimed under an
	// unexpired lease.
	Enqueue(ctx context.Context, job post.PublishJob, delay time.Duration) (string, error)
	// Cancel removes a waiting or delayed job. It reports false for jobs that
	// are active, finished or unknown.
	Cancel(ctx context.Context, id string) (bool, error)
	Status(ctx context.Context, id string) (Status, error)
	Stats(ctx context.Context) (Stats, error)

	// Claim moves the next eligible job to active under a lease. It returns
	// nil when nothing is due. Eligible jobs come out by ready time, then by
	// enqueue sequence. Jobs whose lease expired are settled first: the lost
	// attempt counts, and the job returns to the queue or fails when its
	// budget is spent.
	Claim(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, id string, result Result) error
	// Retry returns an active job to the queue after delay.
	Retry(ctx context.Context, id string, delay time.Duration, reason string) error
	Fail(ctx context.Context, id string, reason string) error
}

// DelayUntil is the wait before a job scheduled at scheduled may run.
// Zero or past times dispatch immediately.
func DelayUntil(scheduled, now time.Time) time.Duration {
	if scheduled.IsZero() {
		return 0
	}
	if d := scheduled.Sub(now); d > 0 {
		return d
	}
	return 0
}

const maxBackoff = 24 * time.Hour

// NextDelay is the exponential backoff base × 2^attemptsMade, capped at a day.
func NextDelay(base time.Duration, attemptsMade int) time.Duration {
	if base <= 0 || attemptsMade < 0 {
		return base
	}
	d := base
	for i := 0; i < attemptsMade; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func scrub(job post.PublishJob) post.PublishJob {
	job.PageAccessToken = ""
	return job
}

func normalizeMaxAttempts(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
