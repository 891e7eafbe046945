// Package memory queues completed conversation cycles for the background
// worker that distills them into long-term user memory.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dshills/lexgraph/logger"
)

// DefaultQueue is the Redis list tasks are pushed to.
const DefaultQueue = "task_queue"

// Task is one completed answer cycle.
type Task struct {
	UserID    string    `json:"user_id"`
	ThreadID  string    `json:"thread_id"`
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// Queue accepts tasks for later processing.
type Queue interface {
	Push(ctx context.Context, task Task) error
}

// Handler processes one task. Returned errors are logged; the task is not
// requeued.
type Handler func(ctx context.Context, task Task) error

// RedisQueue is a Redis list used as a FIFO queue: RPUSH to produce, BLPOP
// to consume.
type RedisQueue struct {
	rdb         *redis.Client
	name        string
	log         logger.Logger
	pollTimeout time.Duration
}

// NewRedisQueue connects to redisURL. A value that is not a redis:// URL is
// used as a plain host:port address.
func NewRedisQueue(ctx context.Context, redisURL, name string, log logger.Logger) (*RedisQueue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisQueueWithClient(rdb, name, log), nil
}

// NewRedisQueueWithClient wraps an existing client.
func NewRedisQueueWithClient(rdb *redis.Client, name string, log logger.Logger) *RedisQueue {
	if name == "" {
		name = DefaultQueue
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisQueue{rdb: rdb, name: name, log: log, pollTimeout: 5 * time.Second}
}

// Push implements Queue.
func (q *RedisQueue) Push(ctx context.Context, task Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("push task: %w", err)
	}
	return nil
}

// Len returns the number of queued tasks.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.name).Result()
}

// Consume pops tasks and hands them to handler until ctx is done. Malformed
// entries are logged and dropped.
func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	q.log.Info("memory", "worker monitoring queue", map[string]interface{}{"queue": q.name})

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		res, err := q.rdb.BLPop(ctx, q.pollTimeout, q.name).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pop task: %w", err)
		}
		// res is [key, value]
		if len(res) != 2 {
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			q.log.Warn("memory", "dropping malformed task", map[string]interface{}{"error": err.Error()})
			continue
		}

		q.log.Info("memory", "processing task", map[string]interface{}{
			"user_id":   task.UserID,
			"thread_id": task.ThreadID,
		})
		if err := handler(ctx, task); err != nil {
			q.log.Error("memory", "task handler failed", map[string]interface{}{
				"user_id": task.UserID,
				"error":   err.Error(),
			})
		}
	}
}

// Close releases the Redis connection.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
