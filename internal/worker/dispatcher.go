package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aurlink/waitlist/internal/engine"
	"github.com/redis/go-redis/v9"
)

// Dispatcher continuously polls the Redis email queue and sends jobs
// to the worker pool.
type Dispatcher struct {
	redisClient  *redis.Client
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64
}

// NewDispatcher creates a dispatcher that pulls from the Redis sorted set.
func NewDispatcher(redisClient *redis.Client, pool *Pool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		redisClient:  redisClient,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
	}
}

// Start runs the polling loop until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll claims a batch of due jobs and hands them to the pool. A job is
// claimed by whichever dispatcher removes it from the set first, so each
// email is handed out at most once.
func (d *Dispatcher) poll(ctx context.Context) int {
	now := float64(time.Now().UnixMicro())

	results, err := d.redisClient.ZRangeByScoreWithScores(ctx, engine.EmailQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   formatFloat(now),
		Count: d.batchSize,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error("failed to poll email queue", "error", err)
		}
		return 0
	}

	dispatched := 0
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}

		removed, err := d.redisClient.ZRem(ctx, engine.EmailQueueKey, member).Result()
		if err != nil {
			d.logger.Error("failed to remove job from queue", "error", err)
			continue
		}
		if removed == 0 {
			continue
		}

		var job engine.EmailJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			d.logger.Error("dropping malformed email job", "error", err)
			continue
		}

		if !d.pool.Submit(ctx, job) {
			// Shutting down: put the unsent job back for the next run.
			if err := d.Requeue(context.WithoutCancel(ctx), job, time.Now()); err != nil {
				d.logger.Error("failed to return job to queue", "error", err, "broadcast_id", job.BroadcastID)
			}
			return dispatched
		}
		dispatched++
	}
	return dispatched
}

// Requeue schedules job to become due at the given time.
func (d *Dispatcher) Requeue(ctx context.Context, job engine.EmailJob, at time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	err = d.redisClient.ZAdd(ctx, engine.EmailQueueKey, redis.Z{
		Score:  float64(at.UnixMicro()),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("requeuing job: %w", err)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
