package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestCB(t *testing.T) (*CircuitBreaker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewCircuitBreaker(client, testLogger()), mr
}

// openAndExpire opens the breaker, then backdates last_failed_at past the cooldown.
func openAndExpire(t *testing.T, cb *CircuitBreaker, mr *miniredis.Miniredis, name string) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < DefaultFailureThreshold; i++ {
		cb.RecordFailure(ctx, name)
	}
	past := time.Now().Add(-DefaultCooldown - time.Second).Unix()
	mr.HSet(cbKey(name), "last_failed_at", fmt.Sprintf("%d", past))
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb, _ := setupTestCB(t)

	state, allowed := cb.AllowRequest(context.Background(), "notify:resend")
	if state != StateClosed || !allowed {
		t.Errorf("got (%q, %v), want (%q, true)", state, allowed, StateClosed)
	}

	got := cb.GetState(context.Background(), "notify:resend")
	if got.State != StateClosed || got.Failures != 0 {
		t.Errorf("unexpected default state %+v", got)
	}
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb, _ := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		cb.RecordFailure(ctx, "notify:smtp")
	}
	if _, allowed := cb.AllowRequest(ctx, "notify:smtp"); !allowed {
		t.Fatal("should be allowed below threshold")
	}

	cb.RecordFailure(ctx, "notify:smtp")

	state, allowed := cb.AllowRequest(ctx, "notify:smtp")
	if state != StateOpen {
		t.Errorf("expected %q, got %q", StateOpen, state)
	}
	if allowed {
		t.Error("should NOT be allowed when open")
	}
	if s := cb.GetState(ctx, "notify:smtp"); s.LastFailedAt == "" {
		t.Error("expected lastFailedAt to be reported")
	}
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb, _ := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		cb.RecordFailure(ctx, "notify:ses")
	}
	cb.RecordSuccess(ctx, "notify:ses")

	got := cb.GetState(ctx, "notify:ses")
	if got.State != StateClosed || got.Failures != 0 {
		t.Errorf("expected closed with 0 failures, got %+v", got)
	}
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb, mr := setupTestCB(t)
	ctx := context.Background()

	openAndExpire(t, cb, mr, "notify:resend")

	if got := cb.GetState(ctx, "notify:resend"); got.State != StateHalfOpen {
		t.Errorf("GetState: expected %q, got %q", StateHalfOpen, got.State)
	}

	state, allowed := cb.AllowRequest(ctx, "notify:resend")
	if state != StateHalfOpen || !allowed {
		t.Errorf("got (%q, %v), want (%q, true)", state, allowed, StateHalfOpen)
	}
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cb, mr := setupTestCB(t)
	ctx := context.Background()

	openAndExpire(t, cb, mr, "notify:resend")
	cb.AllowRequest(ctx, "notify:resend")
	cb.RecordSuccess(ctx, "notify:resend")

	if got := cb.GetState(ctx, "notify:resend"); got.State != StateClosed {
		t.Errorf("expected %q, got %q", StateClosed, got.State)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, mr := setupTestCB(t)
	ctx := context.Background()

	openAndExpire(t, cb, mr, "notify:resend")
	cb.AllowRequest(ctx, "notify:resend")
	cb.RecordFailure(ctx, "notify:resend")

	state, allowed := cb.AllowRequest(ctx, "notify:resend")
	if state != StateOpen || allowed {
		t.Errorf("got (%q, %v), want (%q, false)", state, allowed, StateOpen)
	}
}

func TestCircuitBreaker_IsolatedPerName(t *testing.T) {
	cb, _ := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < DefaultFailureThreshold; i++ {
		cb.RecordFailure(ctx, "notify:sendgrid")
	}

	if state, allowed := cb.AllowRequest(ctx, "notify:smtp"); state != StateClosed || !allowed {
		t.Errorf("notify:smtp should be unaffected, got (%q, %v)", state, allowed)
	}
}

func TestCircuitBreaker_WithLimits(t *testing.T) {
	cb, _ := setupTestCB(t)
	cb.WithLimits(2, time.Minute)
	ctx := context.Background()

	cb.RecordFailure(ctx, "notify:log")
	cb.RecordFailure(ctx, "notify:log")

	if _, allowed := cb.AllowRequest(ctx, "notify:log"); allowed {
		t.Error("custom threshold of 2 should open the breaker")
	}
}

func TestCircuitBreaker_RedisDownFailsClosed(t *testing.T) {
	cb, mr := setupTestCB(t)
	mr.Close()

	state, allowed := cb.AllowRequest(context.Background(), "notify:resend")
	if state != StateClosed || !allowed {
		t.Errorf("breaker should stay closed when redis is unreachable, got (%q, %v)", state, allowed)
	}
}
