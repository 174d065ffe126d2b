// Package queue implements the atomic priority queue on Redis: ten FIFO
// lanes (one per priority level) plus a time-ordered delayed set.
//
// Atomicity rests entirely on Redis executing commands single-threaded and
// on the Lua script used for the delayed-set pop. No client-side locking is
// layered on top; the atomic RPOP is the sole synchronization primitive the
// scheduler relies on across worker processes.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"kernelq/internal/job"
)

// ErrEmpty is returned by PopHighest when every lane is empty.
var ErrEmpty = errors.New("queue: all lanes empty")

// popReadyScript atomically pops every delayed entry whose readiness
// instant has passed. ZRANGEBYSCORE+ZREM must run as one unit or two
// promoters could both observe (and promote) the same entry.
var popReadyScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if #ids > 0 then
  redis.call('ZREM', KEYS[1], unpack(ids))
end
return ids
`)

type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type Queue struct {
	client *redis.Client
	prefix string
}

func New(cfg Config) *Queue {
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "kernelq:"
	}
	return &Queue{client: rdb, prefix: prefix}
}

// NewWithClient wraps an existing client (tests, shared pools).
func NewWithClient(client *redis.Client, prefix string) *Queue {
	if prefix == "" {
		prefix = "kernelq:"
	}
	return &Queue{client: client, prefix: prefix}
}

func (q *Queue) laneKey(priority int) string {
	return q.prefix + "lane:" + strconv.Itoa(priority)
}

func (q *Queue) delayedKey() string { return q.prefix + "delayed" }

// Ping checks connectivity (used by /healthz).
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) Close() error { return q.client.Close() }

// Push appends a job id to the tail of its priority lane. Insertion order
// within a lane is preserved (LPUSH head, RPOP tail).
func (q *Queue) Push(ctx context.Context, priority int, jobID string) error {
	if priority < job.MinPriority || priority > job.MaxPriority {
		return fmt.Errorf("queue: priority %d out of range", priority)
	}
	return q.client.LPush(ctx, q.laneKey(priority), jobID).Err()
}

// PopHighest atomically removes and returns one job id from the highest
// non-empty lane, scanning 10 down to 1. Returns ErrEmpty when all lanes
// are empty.
//
// Each single-lane RPOP is atomic; the cross-lane scan is not, which is
// fine: a concurrent push to a higher lane is simply observed on the next
// dispatch cycle.
func (q *Queue) PopHighest(ctx context.Context) (string, error) {
	for p := job.MaxPriority; p >= job.MinPriority; p-- {
		id, err := q.client.RPop(ctx, q.laneKey(p)).Result()
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("queue: rpop lane %d: %w", p, err)
		}
	}
	return "", ErrEmpty
}

// Len probes one lane's depth.
func (q *Queue) Len(ctx context.Context, priority int) (int64, error) {
	return q.client.LLen(ctx, q.laneKey(priority)).Result()
}

// HighestWaiting returns the highest priority with at least one waiting
// job, or 0 when every lane is empty. This is the preemption oracle's
// cheap length probe; it is advisory and makes no atomicity claim.
func (q *Queue) HighestWaiting(ctx context.Context) (int, error) {
	for p := job.MaxPriority; p >= job.MinPriority; p-- {
		n, err := q.client.LLen(ctx, q.laneKey(p)).Result()
		if err != nil {
			return 0, fmt.Errorf("queue: llen lane %d: %w", p, err)
		}
		if n > 0 {
			return p, nil
		}
	}
	return 0, nil
}

// Contains reports whether a job id is already waiting in the given lane.
// Best-effort de-duplication guard only; the dispatcher re-validates job
// status on pickup, so a duplicate enqueue is harmless.
func (q *Queue) Contains(ctx context.Context, priority int, jobID string) (bool, error) {
	_, err := q.client.LPos(ctx, q.laneKey(priority), jobID, redis.LPosArgs{}).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DelayedAdd registers a job id to become ready at the given instant.
func (q *Queue) DelayedAdd(ctx context.Context, jobID string, readyAt time.Time) error {
	return q.client.ZAdd(ctx, q.delayedKey(), &redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: jobID,
	}).Err()
}

// DelayedPopReady atomically removes and returns all job ids whose
// readiness instant is at or before now.
func (q *Queue) DelayedPopReady(ctx context.Context, now time.Time) ([]string, error) {
	res, err := popReadyScript.Run(ctx, q.client,
		[]string{q.delayedKey()},
		now.UnixMilli(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: pop ready: %w", err)
	}
	raw, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("queue: unexpected script reply %T", res)
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// DelayedLen returns the delayed-set size.
func (q *Queue) DelayedLen(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.delayedKey()).Result()
}

// Depths returns the current length of every lane, keyed by priority.
func (q *Queue) Depths(ctx context.Context) (map[int]int64, error) {
	out := make(map[int]int64, job.MaxPriority)
	for p := job.MinPriority; p <= job.MaxPriority; p++ {
		n, err := q.client.LLen(ctx, q.laneKey(p)).Result()
		if err != nil {
			return nil, err
		}
		out[p] = n
	}
	return out, nil
}
