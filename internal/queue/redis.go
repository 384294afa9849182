package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/janakkhadka100/fb-post-ai/internal/post"
)

// Keys share one hash tag so every script touches a single cluster slot.
//
//	{fbpostai:<name>}:job:<id>   hash
//	{fbpostai:<name>}:pending    zset  score = ready_at ms
//	{fbpostai:<name>}:active     zset  score = lease expiry ms
//	{fbpostai:<name>}:completed  zset  score = finished_at ms
//	{fbpostai:<name>}:failed     zset  score = finished_at ms
//	{fbpostai:<name>}:seq        counter
//
// Numeric ARGVs are written back verbatim; scripts only compare them, so
// nothing is reformatted as a float.

var enqueueScript = goredis.NewScript(`
local lease = redis.call('ZSCORE', KEYS[3], ARGV[1])
if lease and tonumber(lease) > tonumber(ARGV[5]) then
  return 0
end
redis.call('ZREM', KEYS[3], ARGV[1])
local seq = redis.call('INCR', KEYS[6])
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('ZREM', KEYS[5], ARGV[1])
redis.call('HSET', KEYS[1],
  'payload', ARGV[2], 'attempts', '0', 'max_attempts', ARGV[3],
  'ready_at', ARGV[4], 'enqueued_at', ARGV[5], 'seq', tostring(seq), 'state', 'pending',
  'request_id', ARGV[6], 'variant_id', ARGV[7], 'page_id', ARGV[8], 'scheduled_for', ARGV[9])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
return 1
`)

// Expired leases are settled first: the stalled attempt counts, and the
// job either goes back to pending or fails once its budget is spent.
//
// KEYS: pending, active, job key prefix, failed, seq.
// ARGV: now ms, lease expiry ms, stalled reason.
var claimScript = goredis.NewScript(`
local stalled = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(stalled) do
  redis.call('ZREM', KEYS[2], id)
  local key = KEYS[3] .. id
  if redis.call('EXISTS', key) == 1 then
    local attempts = redis.call('HINCRBY', key, 'attempts', 1)
    local max = tonumber(redis.call('HGET', key, 'max_attempts')) or 1
    if attempts >= max then
      redis.call('HDEL', key, 'payload')
      redis.call('HSET', key, 'state', 'failed', 'failed_reason', ARGV[3], 'finished_at', ARGV[1])
      redis.call('ZADD', KEYS[4], ARGV[1], id)
    else
      local seq = redis.call('INCR', KEYS[5])
      redis.call('HSET', key, 'state', 'pending', 'ready_at', ARGV[1], 'failed_reason', ARGV[3], 'seq', tostring(seq))
      redis.call('ZADD', KEYS[1], ARGV[1], id)
    end
  end
end
local head = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, 1)
if #head == 0 then
  return ''
end
local tied = redis.call('ZRANGEBYSCORE', KEYS[1], head[2], head[2])
local best = head[1]
local bestSeq = nil
for _, id in ipairs(tied) do
  local s = tonumber(redis.call('HGET', KEYS[3] .. id, 'seq'))
  if s ~= nil and (bestSeq == nil or s < bestSeq) then
    best = id
    bestSeq = s
  end
end
redis.call('ZREM', KEYS[1], best)
redis.call('ZADD', KEYS[2], ARGV[2], best)
redis.call('HSET', KEYS[3] .. best, 'state', 'active')
return best
`)

// KEYS: job, pending. ARGV: id.
var cancelScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

// KEYS: job, pending, active, seq. ARGV: id, ready_at ms, reason.
var retryScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[3], ARGV[1]) == 0 then
  return 0
end
local seq = redis.call('INCR', KEYS[4])
redis.call('HINCRBY', KEYS[1], 'attempts', 1)
redis.call('HSET', KEYS[1], 'ready_at', ARGV[2], 'failed_reason', ARGV[3], 'seq', tostring(seq), 'state', 'pending')
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// KEYS: job, active, completed. ARGV: id, result, now ms, retention ms, cutoff ms.
var completeScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('HINCRBY', KEYS[1], 'attempts', 1)
redis.call('HDEL', KEYS[1], 'payload', 'failed_reason')
redis.call('HSET', KEYS[1], 'state', 'completed', 'result', ARGV[2], 'finished_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[3], '-inf', ARGV[5])
return 1
`)

// KEYS: job, active, failed. ARGV: id, reason, now ms, scrubbed payload.
var failScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('HINCRBY', KEYS[1], 'attempts', 1)
redis.call('HSET', KEYS[1], 'state', 'failed', 'failed_reason', ARGV[2], 'finished_at', ARGV[3], 'payload', ARGV[4])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

// RedisQueue is a Queue shared by every process pointed at the same Redis.
type RedisQueue struct {
	client    goredis.UniversalClient
	prefix    string
	now       func() time.Time
	retention time.Duration
	lease     time.Duration
}

type RedisConfig struct {
	Client goredis.UniversalClient
	// Name separates independent queues on one Redis. Default "posting".
	Name      string
	Retention time.Duration
	// Lease is how long a claim stays valid without being settled.
	Lease time.Duration
	Now   func() time.Time
}

func NewRedisQueue(cfg RedisConfig) (*RedisQueue, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis queue: client is required")
	}
	name := cfg.Name
	if name == "" {
		name = "posting"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultCompletedRetention
	}
	lease := cfg.Lease
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	return &RedisQueue{
		client:    cfg.Client,
		prefix:    "{fbpostai:" + name + "}",
		now:       now,
		retention: retention,
		lease:     lease,
	}, nil
}

func (q *RedisQueue) jobKey(id string) string { return q.prefix + ":job:" + id }
func (q *RedisQueue) jobPrefix() string       { return q.prefix + ":job:" }
func (q *RedisQueue) pendingKey() string      { return q.prefix + ":pending" }
func (q *RedisQueue) activeKey() string       { return q.prefix + ":active" }
func (q *RedisQueue) completedKey() string    { return q.prefix + ":completed" }
func (q *RedisQueue) failedKey() string       { return q.prefix + ":failed" }
func (q *RedisQueue) seqKey() string          { return q.prefix + ":seq" }

func ms(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (q *RedisQueue) Enqueue(ctx context.Context, job post.PublishJob, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}
	id := job.Key()
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	now := q.now()
	scheduled := ""
	if !job.ScheduledFor.IsZero() {
		scheduled = ms(job.ScheduledFor)
	}

	ok, err := enqueueScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.pendingKey(), q.activeKey(), q.completedKey(), q.failedKey(), q.seqKey()},
		id, string(payload), strconv.Itoa(normalizeMaxAttempts(job.MaxAttempts)), ms(now.Add(delay)), ms(now),
		job.RequestID, job.VariantID, job.PageID, scheduled,
	).Int()
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", id, err)
	}
	if ok == 0 {
		return "", ErrJobActive
	}
	return id, nil
}

func (q *RedisQueue) Cancel(ctx context.Context, id string) (bool, error) {
	ok, err := cancelScript.Run(ctx, q.client, []string{q.jobKey(id), q.pendingKey()}, id).Int()
	if err != nil {
		return false, fmt.Errorf("cancel %s: %w", id, err)
	}
	return ok == 1, nil
}

func (q *RedisQueue) Status(ctx context.Context, id string) (Status, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("status %s: %w", id, err)
	}
	if len(fields) == 0 {
		return Status{}, ErrJobNotFound
	}
	h := hashFields(fields)
	st := Status{
		ID:           id,
		State:        State(fields["state"]),
		RequestID:    fields["request_id"],
		VariantID:    fields["variant_id"],
		PageID:       fields["page_id"],
		AttemptsMade: h.int("attempts"),
		MaxAttempts:  h.int("max_attempts"),
		ScheduledFor: h.time("scheduled_for"),
		ReadyAt:      h.time("ready_at"),
		FailedReason: fields["failed_reason"],
	}
	if st.State == "pending" {
		st.State = pendingState(st.ReadyAt, q.now())
	}
	if raw := fields["result"]; raw != "" {
		var res Result
		if err := json.Unmarshal([]byte(raw), &res); err == nil {
			st.Result = &res
		}
	}
	return st, nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	now := q.now()
	nowMs := ms(now)
	cutoff := ms(now.Add(-q.retention))

	pipe := q.client.Pipeline()
	waiting := pipe.ZCount(ctx, q.pendingKey(), "-inf", nowMs)
	delayed := pipe.ZCount(ctx, q.pendingKey(), "("+nowMs, "+inf")
	active := pipe.ZCard(ctx, q.activeKey())
	completed := pipe.ZCount(ctx, q.completedKey(), "("+cutoff, "+inf")
	failed := pipe.ZCard(ctx, q.failedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}

	s := Stats{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}
	s.sum()
	return s, nil
}

func (q *RedisQueue) Claim(ctx context.Context) (*Job, error) {
	now := q.now()
	id, err := claimScript.Run(ctx, q.client,
		[]string{q.pendingKey(), q.activeKey(), q.jobPrefix(), q.failedKey(), q.seqKey()},
		ms(now), ms(now.Add(q.lease)), StalledReason,
	).Text()
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	if id == "" {
		return nil, nil
	}

	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load claimed job %s: %w", id, err)
	}
	var payload post.PublishJob
	if err := json.Unmarshal([]byte(fields["payload"]), &payload); err != nil {
		// An undecodable payload can never succeed; settle it now.
		_ = q.Fail(ctx, id, "corrupt payload: "+err.Error())
		return nil, fmt.Errorf("decode claimed job %s: %w", id, err)
	}
	h := hashFields(fields)
	return &Job{
		ID:           id,
		Payload:      payload,
		AttemptsMade: h.int("attempts"),
		MaxAttempts:  h.int("max_attempts"),
		ReadyAt:      h.time("ready_at"),
		EnqueuedAt:   h.time("enqueued_at"),
		Seq:          int64(h.int("seq")),
		State:        StateActive,
		FailedReason: fields["failed_reason"],
	}, nil
}

func (q *RedisQueue) Complete(ctx context.Context, id string, result Result) error {
	now := q.now()
	if result.CompletedAt.IsZero() {
		result.CompletedAt = now
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	ok, err := completeScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.activeKey(), q.completedKey()},
		id, string(raw), ms(now), strconv.FormatInt(q.retention.Milliseconds(), 10), ms(now.Add(-q.retention)),
	).Int()
	if err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	return q.settled(ctx, id, ok)
}

func (q *RedisQueue) Retry(ctx context.Context, id string, delay time.Duration, reason string) error {
	if delay < 0 {
		delay = 0
	}
	ok, err := retryScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.pendingKey(), q.activeKey(), q.seqKey()},
		id, ms(q.now().Add(delay)), reason,
	).Int()
	if err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	return q.settled(ctx, id, ok)
}

func (q *RedisQueue) Fail(ctx context.Context, id string, reason string) error {
	payload := ""
	if raw, err := q.client.HGet(ctx, q.jobKey(id), "payload").Result(); err == nil {
		var job post.PublishJob
		if json.Unmarshal([]byte(raw), &job) == nil {
			if b, err := json.Marshal(scrub(job)); err == nil {
				payload = string(b)
			}
		}
	}
	ok, err := failScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.activeKey(), q.failedKey()},
		id, reason, ms(q.now()), payload,
	).Int()
	if err != nil {
		return fmt.Errorf("fail %s: %w", id, err)
	}
	return q.settled(ctx, id, ok)
}

// settled maps a script's 0 reply onto ErrJobNotFound or ErrNotActive.
func (q *RedisQueue) settled(ctx context.Context, id string, ok int) error {
	if ok == 1 {
		return nil
	}
	exists, err := q.client.Exists(ctx, q.jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("check %s: %w", id, err)
	}
	if exists == 0 {
		return ErrJobNotFound
	}
	return ErrNotActive
}

type hashFields map[string]string

func (h hashFields) int(field string) int {
	n, _ := strconv.Atoi(h[field])
	return n
}

func (h hashFields) time(field string) time.Time {
	n, err := strconv.ParseInt(h[field], 10, 64)
	if err != nil || h[field] == "" {
		return time.Time{}
	}
	return time.UnixMilli(n)
}
