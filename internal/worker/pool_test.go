package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janakkhadka100/fb-post-ai/internal/audit"
	"github.com/janakkhadka100/fb-post-ai/internal/graph"
	"github.com/janakkhadka100/fb-post-ai/internal/metrics"
	"github.com/janakkhadka100/fb-post-ai/internal/post"
	"github.com/janakkhadka100/fb-post-ai/internal/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorder) Record(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func (r *recorder) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) count(t audit.EventType) int {
	n := 0
	for _, got := range r.types() {
		if got == t {
			n++
		}
	}
	return n
}

type fakeModerator struct {
	unsafe bool
	fail   bool
}

func (m fakeModerator) Check(_ context.Context, _ string) post.ModerationResult {
	switch {
	case m.fail:
		return post.ModerationResult{Success: false, Error: "moderation service unavailable"}
	case m.unsafe:
		return post.ModerationResult{Success: true, Flagged: true, HasHighRisk: true, Categories: []string{"hate"}}
	}
	return post.ModerationResult{Success: true, Safe: true}
}

// scriptedPublisher fails with errs in order, then succeeds.
type scriptedPublisher struct {
	mu    sync.Mutex
	errs  []error
	calls []string
	last  graph.Post
}

func (p *scriptedPublisher) next(kind string, req graph.Post) (graph.Published, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, kind)
	p.last = req
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return graph.Published{}, err
	}
	return graph.Published{ID: "photo-1", PostID: "page_1"}, nil
}

func (p *scriptedPublisher) PublishText(_ context.Context, req graph.Post) (graph.Published, error) {
	return p.next("text", req)
}

func (p *scriptedPublisher) PublishPhotoURL(_ context.Context, req graph.Post) (graph.Published, error) {
	return p.next("photo_url", req)
}

func (p *scriptedPublisher) PublishPhotoBytes(_ context.Context, req graph.Post) (graph.Published, error) {
	return p.next("photo_bytes", req)
}

type fakeCredentials struct {
	token string
	err   error
}

func (f fakeCredentials) RefreshCredential(context.Context, string, string) (graph.Credential, error) {
	if f.err != nil {
		return graph.Credential{}, f.err
	}
	return graph.Credential{Token: f.token}, nil
}

type fakeMedia map[string][]byte

func (m fakeMedia) Read(path string) ([]byte, error) {
	if b, ok := m[path]; ok {
		return b, nil
	}
	return nil, errors.New("no such file")
}

type harness struct {
	pool  *Pool
	queue *queue.MemoryQueue
	clock *fakeClock
	audit *recorder
	pub   *scriptedPublisher
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	q := queue.NewMemoryQueue(queue.WithMemoryClock(clock.Now))
	rec := &recorder{}
	pub, _ := cfg.Publisher.(*scriptedPublisher)
	if pub == nil && !cfg.DryRun {
		pub = &scriptedPublisher{}
		cfg.Publisher = pub
	}
	cfg.Queue = q
	cfg.Audit = rec
	if cfg.Moderator == nil {
		cfg.Moderator = fakeModerator{}
	}
	pool, err := New(cfg)
	require.NoError(t, err)
	return &harness{pool: pool, queue: q, clock: clock, audit: rec, pub: pub}
}

func textJob(maxAttempts int) post.PublishJob {
	return post.PublishJob{
		RequestID:       "req-1",
		VariantID:       "req-1-v1",
		PageID:          "page-1",
		PageAccessToken: "page-token",
		Content:         "Sale starts Monday",
		Kind:            post.KindText,
		MaxAttempts:     maxAttempts,
	}
}

// drain processes due jobs, advancing the clock past any backoff, until
// the job is terminal.
func (h *harness) drain(t *testing.T, id string) queue.Status {
	t.Helper()
	ctx := context.Background()
	for range 20 {
		status, err := h.queue.Status(ctx, id)
		require.NoError(t, err)
		if status.State.Terminal() {
			return status
		}
		processed, err := h.pool.ProcessNext(ctx)
		require.NoError(t, err)
		if !processed {
			h.clock.Advance(2 * time.Hour)
		}
	}
	t.Fatalf("job %s never finished", id)
	return queue.Status{}
}

func TestRateLimitedTwiceThenSucceeds(t *testing.T) {
	pub := &scriptedPublisher{errs: []error{
		post.RateLimited(errors.New("slow down"), 0),
		post.RateLimited(errors.New("slow down"), 30*time.Second),
	}}
	h := newHarness(t, Config{Publisher: pub})

	id, err := h.queue.Enqueue(context.Background(), textJob(3), 0)
	require.NoError(t, err)

	status := h.drain(t, id)
	assert.Equal(t, queue.StateCompleted, status.State)
	require.NotNil(t, status.Result)
	assert.Equal(t, "page_1", status.Result.PostID)
	assert.Equal(t, 3, len(pub.calls))

	assert.Equal(t, 2, h.audit.count(audit.EventPublishFailed))
	assert.Equal(t, 1, h.audit.count(audit.EventPublishSucceeded))
	types := h.audit.types()
	assert.Equal(t, audit.EventPublishSucceeded, types[len(types)-1])
}

func TestRateLimitDelayHonorsRetryAfter(t *testing.T) {
	pub := &scriptedPublisher{errs: []error{post.RateLimited(errors.New("slow down"), 45*time.Second)}}
	h := newHarness(t, Config{Publisher: pub, RateLimitDelay: time.Minute})

	id, err := h.queue.Enqueue(context.Background(), textJob(3), 0)
	require.NoError(t, err)
	processed, err := h.pool.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	status, err := h.queue.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, queue.StateDelayed, status.State)
	assert.Equal(t, h.clock.Now().Add(45*time.Second), status.ReadyAt)
	assert.Equal(t, 1, status.AttemptsMade)
}

func TestTransientBackoffIsExponential(t *testing.T) {
	pub := &scriptedPublisher{errs: []error{
		post.Transient(errors.New("reset")),
		post.Transient(errors.New("reset")),
	}}
	h := newHarness(t, Config{Publisher: pub, RetryBase: time.Second})
	ctx := context.Background()

	id, err := h.queue.Enqueue(ctx, textJob(5), 0)
	require.NoError(t, err)

	_, err = h.pool.ProcessNext(ctx)
	require.NoError(t, err)
	status, _ := h.queue.Status(ctx, id)
	assert.Equal(t, h.clock.Now().Add(time.Second), status.ReadyAt)

	h.clock.Advance(time.Second)
	_, err = h.pool.ProcessNext(ctx)
	require.NoError(t, err)
	status, _ = h.queue.Status(ctx, id)
	assert.Equal(t, h.clock.Now().Add(2*time.Second), status.ReadyAt)
}

func TestAttemptsExhaustedFails(t *testing.T) {
	pub := &scriptedPublisher{errs: []error{
		post.Transient(errors.New("timeout")),
		post.Transient(errors.New("timeout")),
		post.Transient(errors.New("timeout")),
		post.Transient(errors.New("timeout")),
	}}
	h := newHarness(t, Config{Publisher: pub})

	id, err := h.queue.Enqueue(context.Background(), textJob(3), 0)
	require.NoError(t, err)

	status := h.drain(t, id)
	assert.Equal(t, queue.StateFailed, status.State)
	assert.Equal(t, 3, status.AttemptsMade)
	assert.Len(t, pub.calls, 3, "no attempt after the budget is spent")
	assert.Equal(t, 3, h.audit.count(audit.EventError))
	assert.Equal(t, 3, h.audit.count(audit.EventPublishFailed))

	processed, err := h.pool.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	pub := &scriptedPublisher{errs: []error{post.Permanent(errors.New("invalid token"))}}
	h := newHarness(t, Config{Publisher: pub})

	id, err := h.queue.Enqueue(context.Background(), textJob(3), 0)
	require.NoError(t, err)

	status := h.drain(t, id)
	assert.Equal(t, queue.StateFailed, status.State)
	assert.Len(t, pub.calls, 1)
	assert.Contains(t, status.FailedReason, "invalid token")
}

func TestUnsafeContentFailsWithoutPublishing(t *testing.T) {
	for name, mod := range map[string]fakeModerator{
		"flagged":         {unsafe: true},
		"service failure": {fail: true},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, Config{Moderator: mod})
			id, err := h.queue.Enqueue(context.Background(), textJob(3), 0)
			require.NoError(t, err)

			status := h.drain(t, id)
			assert.Equal(t, queue.StateFailed, status.State)
			assert.Empty(t, h.pub.calls)
			assert.Contains(t, status.FailedReason, "final moderation check")
		})
	}
}

func TestUnsupportedKindIsPermanent(t *testing.T) {
	h := newHarness(t, Config{})
	job := textJob(3)
	job.Kind = post.KindVideo

	id, err := h.queue.Enqueue(context.Background(), job, 0)
	require.NoError(t, err)

	status := h.drain(t, id)
	assert.Equal(t, queue.StateFailed, status.State)
	assert.Equal(t, 1, status.AttemptsMade)
	assert.Contains(t, status.FailedReason, "unsupported post type")
}

func TestDryRunCompletesWithSyntheticID(t *testing.T) {
	h := newHarness(t, Config{DryRun: true, Credentials: fakeCredentials{err: errors.New("must not be called")}})

	id, err := h.queue.Enqueue(context.Background(), textJob(3), 0)
	require.NoError(t, err)

	status := h.drain(t, id)
	assert.Equal(t, queue.StateCompleted, status.State)
	require.NotNil(t, status.Result)
	assert.Equal(t, graph.DryRunPostID, status.Result.PostID)
	assert.True(t, status.Result.DryRun)
}

func TestJobLevelDryRun(t *testing.T) {
	h := newHarness(t, Config{})
	job := textJob(3)
	job.DryRun = true

	id, err := h.queue.Enqueue(context.Background(), job, 0)
	require.NoError(t, err)

	status := h.drain(t, id)
	assert.Equal(t, graph.DryRunPostID, status.Result.PostID)
	assert.Empty(t, h.pub.calls)
}

func TestCredentialRefresh(t *testing.T) {
	t.Run("uses refreshed token", func(t *testing.T) {
		h := newHarness(t, Config{Credentials: fakeCredentials{token: "fresh"}})
		_, err := h.queue.Enqueue(context.Background(), textJob(1), 0)
		require.NoError(t, err)
		_, err = h.pool.ProcessNext(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "fresh", h.pub.last.AccessToken)
	})
	t.Run("falls back to original", func(t *testing.T) {
		h := newHarness(t, Config{Credentials: fakeCredentials{err: errors.New("debug_token down")}})
		_, err := h.queue.Enqueue(context.Background(), textJob(1), 0)
		require.NoError(t, err)
		_, err = h.pool.ProcessNext(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "page-token", h.pub.last.AccessToken)
	})
}

func TestPhotoDispatch(t *testing.T) {
	t.Run("local bytes with alt text", func(t *testing.T) {
		h := newHarness(t, Config{Media: fakeMedia{"/m/a.png": []byte("PNG")}})
		job := textJob(1)
		job.Kind = post.KindImage
		job.MediaPath = "/m/a.png"
		job.AltText = "a red square"
		_, err := h.queue.Enqueue(context.Background(), job, 0)
		require.NoError(t, err)
		_, err = h.pool.ProcessNext(context.Background())
		require.NoError(t, err)

		assert.Equal(t, []string{"photo_bytes"}, h.pub.calls)
		assert.Equal(t, []byte("PNG"), h.pub.last.Photo)
		assert.Equal(t, "a red square", h.pub.last.Options["alt_text"])
	})
	t.Run("unreadable file falls back to url", func(t *testing.T) {
		h := newHarness(t, Config{Media: fakeMedia{}})
		job := textJob(1)
		job.Kind = post.KindPhoto
		job.MediaPath = "/m/gone.png"
		job.MediaURL = "https://cdn.example.com/a.png"
		_, err := h.queue.Enqueue(context.Background(), job, 0)
		require.NoError(t, err)
		_, err = h.pool.ProcessNext(context.Background())
		require.NoError(t, err)

		assert.Equal(t, []string{"photo_url"}, h.pub.calls)
		assert.Equal(t, "https://cdn.example.com/a.png", h.pub.last.PhotoURL)
	})
	t.Run("no media at all", func(t *testing.T) {
		h := newHarness(t, Config{})
		job := textJob(3)
		job.Kind = post.KindImage
		id, err := h.queue.Enqueue(context.Background(), job, 0)
		require.NoError(t, err)
		status := h.drain(t, id)
		assert.Equal(t, queue.StateFailed, status.State)
		assert.Empty(t, h.pub.calls)
	})
}

type panickyPublisher struct{ scriptedPublisher }

func (p *panickyPublisher) PublishText(context.Context, graph.Post) (graph.Published, error) {
	panic("boom")
}

func TestPanicBecomesTransientFailure(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	q := queue.NewMemoryQueue(queue.WithMemoryClock(clock.Now))
	pool, err := New(Config{Queue: q, Moderator: fakeModerator{}, Publisher: &panickyPublisher{}})
	require.NoError(t, err)

	id, err := q.Enqueue(context.Background(), textJob(2), 0)
	require.NoError(t, err)
	_, err = pool.ProcessNext(context.Background())
	require.NoError(t, err)

	status, err := q.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, queue.StateDelayed, status.State)
	assert.Contains(t, status.FailedReason, "panic")
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, Config{DryRun: true, PollInterval: 5 * time.Millisecond, Concurrency: 2})
	h.clock.now = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.pool.Run(ctx) }()

	id, err := h.queue.Enqueue(context.Background(), textJob(1), 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, err := h.queue.Status(context.Background(), id)
		return err == nil && s.State == queue.StateCompleted
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestNewRequiresPublisherOutsideDryRun(t *testing.T) {
	_, err := New(Config{Queue: queue.NewMemoryQueue(), Moderator: fakeModerator{}})
	require.Error(t, err)
	_, err = New(Config{Queue: queue.NewMemoryQueue(), Moderator: fakeModerator{}, DryRun: true})
	require.NoError(t, err)
}

// settleFailingQueue publishes normally but cannot record completion.
type settleFailingQueue struct {
	*queue.MemoryQueue
}

func (q settleFailingQueue) Complete(context.Context, string, queue.Result) error {
	return errors.New("redis: connection reset")
}

func TestCompleteErrorIsAuditedAsUnsettled(t *testing.T) {
	q := settleFailingQueue{queue.NewMemoryQueue()}
	rec := &recorder{}
	pool, err := New(Config{Queue: q, Moderator: fakeModerator{}, Publisher: &scriptedPublisher{}, Audit: rec})
	require.NoError(t, err)

	before := testutil.ToFloat64(metrics.PublishAttempts.WithLabelValues("succeeded"))
	_, err = q.Enqueue(context.Background(), textJob(3), 0)
	require.NoError(t, err)
	processed, err := pool.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	var succeeded []audit.Entry
	for _, e := range rec.entries {
		if e.Type == audit.EventPublishSucceeded {
			succeeded = append(succeeded, e)
		}
	}
	require.Len(t, succeeded, 1)
	assert.Equal(t, "unsettled", succeeded[0].Status)
	assert.Contains(t, succeeded[0].Details["queueError"], "connection reset")
	assert.Equal(t, before, testutil.ToFloat64(metrics.PublishAttempts.WithLabelValues("succeeded")))
}

func TestRefreshStatsExportsTotal(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	_, err := h.queue.Enqueue(ctx, textJob(3), 0)
	require.NoError(t, err)
	job := textJob(3)
	job.VariantID = "req-1-v2"
	_, err = h.queue.Enqueue(ctx, job, time.Hour)
	require.NoError(t, err)

	h.pool.refreshStats(ctx)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.QueueJobs.WithLabelValues("total")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QueueJobs.WithLabelValues("delayed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QueueJobs.WithLabelValues("waiting")))
}
