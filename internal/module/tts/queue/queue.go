package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Pop when the queue has no entries.
var ErrEmpty = errors.New("queue is empty")

const (
	keyPrefix = "tts:queue:"

	// priorityStride spaces priority bands far enough apart that the
	// sequence counter cannot cross between them.
	priorityStride = 1e9
)

// Queue is a priority queue of task IDs backed by a Redis sorted set.
//
// Members are task IDs, so a re-push of the same ID updates its score
// instead of duplicating the entry. The score encodes priority first and
// submission order second: higher priority pops first, and within a
// priority band earlier submissions pop first. Ordering uses a Redis
// counter rather than wall-clock time, so producers with skewed clocks
// still enqueue in a consistent order.
type Queue struct {
	client redis.UniversalClient
	name   string
}

// New creates a queue with the given name.
func New(client redis.UniversalClient, name string) *Queue {
	return &Queue{client: client, name: name}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) key() string {
	return keyPrefix + q.name
}

func (q *Queue) seqKey() string {
	return q.key() + ":seq"
}

// Push adds a task ID with the given priority. Pushing an ID already in
// the queue re-scores it at its new submission position.
func (q *Queue) Push(ctx context.Context, taskID string, priority int) error {
	seq, err := q.client.Incr(ctx, q.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("queue sequence: %w", err)
	}

	score := float64(priority)*priorityStride - float64(seq)
	err = q.client.ZAdd(ctx, q.key(), redis.Z{Score: score, Member: taskID}).Err()
	if err != nil {
		return fmt.Errorf("queue push: %w", err)
	}
	return nil
}

// Pop removes and returns the highest-priority task ID. Returns ErrEmpty
// when the queue has no entries. Pop never blocks.
func (q *Queue) Pop(ctx context.Context) (string, error) {
	entries, err := q.client.ZPopMax(ctx, q.key(), 1).Result()
	if err != nil {
		return "", fmt.Errorf("queue pop: %w", err)
	}
	if len(entries) == 0 {
		return "", ErrEmpty
	}

	taskID, ok := entries[0].Member.(string)
	if !ok {
		return "", fmt.Errorf("queue pop: unexpected member type %T", entries[0].Member)
	}
	return taskID, nil
}

// Remove deletes a task ID from the queue if present.
func (q *Queue) Remove(ctx context.Context, taskID string) error {
	if err := q.client.ZRem(ctx, q.key(), taskID).Err(); err != nil {
		return fmt.Errorf("queue remove: %w", err)
	}
	return nil
}

// Length returns the number of queued task IDs.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.key()).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}
