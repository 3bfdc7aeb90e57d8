package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"settlement-engine/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ReconcileQueueKey is the sorted set shared by the API and the worker.
const ReconcileQueueKey = "settlement:reconcile_tasks"

// DefaultLease is how long a claimed task stays invisible to other consumers.
const DefaultLease = 2 * time.Minute

// leaseDueScript claims due members in one round trip. Claimed members stay in
// the set with their score pushed to the lease deadline, so a consumer that
// dies before Ack only delays the task.
var leaseDueScript = goredis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, item in ipairs(items) do
	redis.call('ZADD', KEYS[1], 'XX', ARGV[3], item)
end
return items
`)

// TaskQueue implements ports.TaskQueue as a Redis sorted set scored by the
// time (unix ms) a task becomes visible.
type TaskQueue struct {
	client *goredis.Client
	key    string
	lease  time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

// NewTaskQueue creates a delayed queue stored under key. A non-positive lease
// falls back to DefaultLease.
func NewTaskQueue(client *goredis.Client, key string, lease time.Duration, log zerolog.Logger) *TaskQueue {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &TaskQueue{
		client: client,
		key:    key,
		lease:  lease,
		now:    time.Now,
		log:    log,
	}
}

// Enqueue schedules task to become visible after delay.
func (q *TaskQueue) Enqueue(ctx context.Context, task domain.ReconcileTask, delay time.Duration) error {
	payload, err := json.Marshal(domain.NewReconcileEnvelope(task, delay))
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	dueAt := q.now().Add(delay).UnixMilli()
	if err := q.client.ZAdd(ctx, q.key, goredis.Z{Score: float64(dueAt), Member: payload}).Err(); err != nil {
		return fmt.Errorf("redis enqueue task: %w", err)
	}
	return nil
}

// Dequeue leases up to limit due tasks. Each returned task carries the stored
// member as its Receipt. Entries that cannot be decoded are removed with a
// warning.
func (q *TaskQueue) Dequeue(ctx context.Context, limit int64) ([]domain.ReconcileTask, error) {
	now := q.now()
	deadline := strconv.FormatInt(now.Add(q.lease).UnixMilli(), 10)
	items, err := leaseDueScript.Run(ctx, q.client, []string{q.key},
		strconv.FormatInt(now.UnixMilli(), 10), limit, deadline).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redis lease tasks: %w", err)
	}

	tasks := make([]domain.ReconcileTask, 0, len(items))
	for _, item := range items {
		var env domain.TaskEnvelope
		if err := json.Unmarshal([]byte(item), &env); err != nil {
			q.log.Warn().Err(err).Str("payload", item).Msg("Dropping undecodable task")
			q.drop(ctx, item)
			continue
		}
		if env.RequestType != domain.RequestTypeValidatePayment {
			q.log.Warn().Str("request_type", env.RequestType).Msg("Dropping task of unknown type")
			q.drop(ctx, item)
			continue
		}
		task := env.Data
		task.Receipt = item
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Ack removes a leased task. Acking a task twice is a no-op.
func (q *TaskQueue) Ack(ctx context.Context, task domain.ReconcileTask) error {
	if task.Receipt == "" {
		return fmt.Errorf("ack %s: task was not leased", task.OrderID)
	}
	if err := q.client.ZRem(ctx, q.key, task.Receipt).Err(); err != nil {
		return fmt.Errorf("redis ack task: %w", err)
	}
	return nil
}

// Len returns the number of tasks held, scheduled or leased.
func (q *TaskQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis queue length: %w", err)
	}
	return n, nil
}

func (q *TaskQueue) drop(ctx context.Context, member string) {
	if err := q.client.ZRem(ctx, q.key, member).Err(); err != nil {
		q.log.Warn().Err(err).Msg("Failed to remove dropped task")
	}
}
