package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Circuit breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
)

// CircuitBreaker tracks the health of an outbound dependency (an email
// provider) in a Redis hash, so every server instance shares one view of it.
// State transitions: closed → open → half-open → closed
//
// - Closed: sends go through, failures are counted.
// - Open: sends are rejected until the cooldown elapses.
// - Half-Open: trial sends are allowed. Success → closed, failure → open.
type CircuitBreaker struct {
	redisClient      *redis.Client
	logger           *slog.Logger
	failureThreshold int
	cooldownPeriod   time.Duration
}

// CircuitBreakerState is the observable state of one breaker.
type CircuitBreakerState struct {
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	LastFailedAt string `json:"lastFailedAt,omitempty"`
}

func NewCircuitBreaker(redisClient *redis.Client, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		redisClient:      redisClient,
		logger:           logger,
		failureThreshold: DefaultFailureThreshold,
		cooldownPeriod:   DefaultCooldown,
	}
}

// WithLimits overrides the failure threshold and cooldown. Non-positive
// values keep the defaults.
func (cb *CircuitBreaker) WithLimits(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold > 0 {
		cb.failureThreshold = threshold
	}
	if cooldown > 0 {
		cb.cooldownPeriod = cooldown
	}
	return cb
}

func cbKey(name string) string {
	return fmt.Sprintf("cb:%s", name)
}

// AllowRequest reports the breaker state for name and whether a call may proceed.
// Redis errors leave the breaker closed.
func (cb *CircuitBreaker) AllowRequest(ctx context.Context, name string) (string, bool) {
	key := cbKey(name)

	data, err := cb.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		cb.logger.Error("reading circuit breaker state", "error", err, "breaker", name)
		return StateClosed, true
	}
	if len(data) == 0 {
		return StateClosed, true
	}

	switch data["state"] {
	case StateOpen:
		if !cb.cooledDown(data["last_failed_at"]) {
			return StateOpen, false
		}
		cb.redisClient.HSet(ctx, key, "state", StateHalfOpen)
		cb.logger.Info("circuit breaker half-open", "breaker", name)
		return StateHalfOpen, true
	case StateHalfOpen:
		return StateHalfOpen, true
	default:
		return StateClosed, true
	}
}

func (cb *CircuitBreaker) cooledDown(lastFailedAt string) bool {
	ts, _ := strconv.ParseInt(lastFailedAt, 10, 64)
	return time.Since(time.Unix(ts, 0)) >= cb.cooldownPeriod
}

// RecordSuccess closes the breaker and clears its failure count.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, name string) {
	key := cbKey(name)

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()
	if state == "" || (state == StateClosed && cb.failures(ctx, key) == 0) {
		return
	}

	if err := cb.redisClient.HSet(ctx, key, "state", StateClosed, "failures", 0).Err(); err != nil {
		cb.logger.Error("resetting circuit breaker", "error", err, "breaker", name)
		return
	}
	if state == StateHalfOpen {
		cb.logger.Info("circuit breaker closed (recovered)", "breaker", name)
	}
}

func (cb *CircuitBreaker) failures(ctx context.Context, key string) int {
	n, _ := cb.redisClient.HGet(ctx, key, "failures").Int()
	return n
}

// RecordFailure counts a failed call and opens the breaker once the
// threshold is reached, or immediately when a half-open trial fails.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, name string) {
	key := cbKey(name)

	pipe := cb.redisClient.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, "failures", 1)
	pipe.HSet(ctx, key, "last_failed_at", time.Now().Unix())
	getState := pipe.HGet(ctx, key, "state")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		cb.logger.Error("recording circuit breaker failure", "error", err, "breaker", name)
		return
	}

	failures := incr.Val()
	state := getState.Val()

	switch {
	case state == StateHalfOpen:
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.logger.Warn("circuit breaker re-opened (half-open trial failed)", "breaker", name)
	case state != StateOpen && failures >= int64(cb.failureThreshold):
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.logger.Warn("circuit breaker opened",
			"breaker", name,
			"failures", failures,
			"threshold", cb.failureThreshold,
		)
	case state == "":
		cb.redisClient.HSet(ctx, key, "state", StateClosed)
	}
}

// GetState returns the current state for name, reporting an open breaker
// whose cooldown has elapsed as half-open.
func (cb *CircuitBreaker) GetState(ctx context.Context, name string) CircuitBreakerState {
	data, err := cb.redisClient.HGetAll(ctx, cbKey(name)).Result()
	if err != nil || len(data) == 0 {
		return CircuitBreakerState{State: StateClosed}
	}

	failures, _ := strconv.Atoi(data["failures"])
	state := data["state"]
	if state == "" {
		state = StateClosed
	}
	if state == StateOpen && cb.cooledDown(data["last_failed_at"]) {
		state = StateHalfOpen
	}

	result := CircuitBreakerState{State: state, Failures: failures}
	if ts, _ := strconv.ParseInt(data["last_failed_at"], 10, 64); ts > 0 {
		result.LastFailedAt = time.Unix(ts, 0).UTC().Format(time.RFC3339)
	}
	return result
}
