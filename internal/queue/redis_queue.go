package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisQueue pushes jobs onto a Redis list keyed by job name; the issue
// pipeline pops with BRPOP on the other side.
type RedisQueue struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisQueue(addr, prefix string) *RedisQueue {
	return &RedisQueue{
		rdb:    redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobName string, payload IssueJob) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal issue job: %w", err)
	}
	key := q.prefix + jobName
	if err := q.rdb.LPush(ctx, key, body).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", jobName, err)
	}
	return nil
}

func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
