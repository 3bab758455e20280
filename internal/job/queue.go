// Package job implements the Job Queue + Worker (C7): an abstract
// queue contract with two implementations (an inline Null queue for
// single-process deployments and a Redis-list-backed distributed
// queue for multi-worker deployments), plus the Worker that dispatches
// a delivered job to its kind-specific handler, grounded on
// original_source/services/job_queue_interface.py's JobQueue/NullJobQueue
// pair and on the teacher's redis/go-redis usage in
// internal/adapters/redis.Store for the distributed variant.
package job

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/flowforge/internal/apperr"
	"github.com/aretw0/flowforge/internal/session/model"
	"github.com/redis/go-redis/v9"
)

// Ref is the minimal job description a Queue moves around; the
// Worker re-loads the authoritative model.Job from the Session Store
// before executing it, so Ref only needs enough to find it again.
type Ref struct {
	SessionID string `json:"session_id"`
	JobID     string `json:"job_id"`
}

// Queue is the abstraction both the Outbox Poller and any external
// worker process consume (§4.7): enqueue a job reference, check its
// last-known status, and report a human-readable hint of which
// implementation backs it.
type Queue interface {
	Enqueue(ctx context.Context, ref Ref) error
	Status(ctx context.Context, ref Ref) (string, error)
	WorkerHint() string
}

// NullQueue is the development-mode fallback: it never actually
// delivers anything itself, because the Outbox Poller detects
// WorkerHint() == "null" and executes the handler inline instead of
// calling Enqueue — mirroring NullJobQueue in the source, whose
// enqueue is a no-op accepted-and-logged call.
type NullQueue struct{}

func (NullQueue) Enqueue(context.Context, Ref) error { return nil }

func (NullQueue) Status(context.Context, Ref) (string, error) {
	return string(model.JobPending), nil
}

func (NullQueue) WorkerHint() string { return "null" }

// RedisQueue is a broker-backed distributed Queue: Enqueue pushes a
// JSON-encoded Ref onto a list key; a separate worker process BRPOPs
// from the same key and calls Worker.Handle. Status is tracked in the
// Session Store, not in Redis, so Status here only reports reachability.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue wires a RedisQueue against an already-constructed
// client (tests substitute a miniredis-backed client here).
func NewRedisQueue(client *redis.Client, queueKey string) *RedisQueue {
	if queueKey == "" {
		queueKey = "flowforge:jobs"
	}
	return &RedisQueue{client: client, key: queueKey}
}

func (q *RedisQueue) Enqueue(ctx context.Context, ref Ref) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal job ref", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return apperr.Wrap(apperr.KindQueueUnavailable, "enqueue job", err)
	}
	return nil
}

func (q *RedisQueue) Status(ctx context.Context, ref Ref) (string, error) {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return "", apperr.Wrap(apperr.KindQueueUnavailable, "ping redis", err)
	}
	return string(model.JobEnqueued), nil
}

func (q *RedisQueue) WorkerHint() string { return "redis" }

// Pop blocks (up to the context's deadline) for the next queued job
// ref, for use by an external worker process's run loop.
func (q *RedisQueue) Pop(ctx context.Context) (Ref, error) {
	res, err := q.client.BRPop(ctx, 0, q.key).Result()
	if err != nil {
		return Ref{}, apperr.Wrap(apperr.KindQueueUnavailable, "pop job", err)
	}
	if len(res) != 2 {
		return Ref{}, apperr.New(apperr.KindInternal, fmt.Sprintf("unexpected BRPOP reply shape: %v", res))
	}
	var ref Ref
	if err := json.Unmarshal([]byte(res[1]), &ref); err != nil {
		return Ref{}, apperr.Wrap(apperr.KindInternal, "decode job ref", err)
	}
	return ref, nil
}
