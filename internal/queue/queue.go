// Package queue is the Redis-backed task queue connecting the API service
// to the background worker. Tasks are JSON documents on a Redis list;
// LPUSH/BRPOP gives FIFO delivery to whichever worker pops first.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultKey is the list key tasks are exchanged on.
const DefaultKey = "times-square:tasks"

// Task names understood by the worker.
const (
	TaskReplaceHTML = "replace_nbhtml"
)

// ErrEmpty is returned by Dequeue when no task arrived within the wait.
var ErrEmpty = errors.New("queue: no task available")

// Task is one unit of background work.
type Task struct {
	Name       string         `json:"name"`
	PageName   string         `json:"page_name"`
	Values     map[string]any `json:"values"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Queue is one named task list.
type Queue struct {
	client *goredis.Client
	key    string
}

func New(client *goredis.Client, key string) *Queue {
	if key == "" {
		key = DefaultKey
	}
	return &Queue{client: client, key: key}
}

// Enqueue appends a task.
func (q *Queue) Enqueue(ctx context.Context, task *Task) error {
	if task.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Dequeue pops the oldest task, blocking up to wait. ErrEmpty means the
// wait elapsed with nothing to do.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*Task, error) {
	res, err := q.client.BRPop(ctx, wait, q.key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue task: %w", err)
	}
	// BRPOP returns [key, value].
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

// Len reports how many tasks are waiting.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}
