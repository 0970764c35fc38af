package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aurlink/waitlist/internal/domain"
	"github.com/aurlink/waitlist/internal/store"
	"github.com/redis/go-redis/v9"
)

func setupTestFanOut(t *testing.T) (*FanOutEngine, *store.MemoryStore, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	subs := store.NewMemory()
	return NewFanOutEngine(subs, store.NewRedisFromClient(client), testLogger()), subs, client
}

func seed(t *testing.T, s *store.MemoryStore, email string, confirmed bool) {
	t.Helper()
	err := s.Insert(context.Background(), &domain.Subscriber{
		ID:         email,
		Email:      email,
		InviteCode: email,
		Confirmed:  confirmed,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("seeding %s: %v", email, err)
	}
}

func TestFanOut_QueuesConfirmedSubscribers(t *testing.T) {
	f, subs, client := setupTestFanOut(t)
	ctx := context.Background()

	seed(t, subs, "a@x.com", true)
	seed(t, subs, "b@x.com", false)
	seed(t, subs, "c@x.com", true)

	status, err := f.FanOut(ctx, domain.BroadcastRequest{
		Template: "Announcement",
		Subject:  "Testnet is live",
		Message:  "Come try it",
	})
	if err != nil {
		t.Fatalf("FanOut: %v", err)
	}
	if status.Total != 2 {
		t.Errorf("expected 2 queued emails, got %d", status.Total)
	}

	depth, err := f.QueueDepth(ctx)
	if err != nil {
		t.Fatalf("QueueDepth: %v", err)
	}
	if depth != 2 {
		t.Errorf("expected queue depth 2, got %d", depth)
	}

	members, err := client.ZRange(ctx, EmailQueueKey, 0, -1).Result()
	if err != nil {
		t.Fatalf("ZRange: %v", err)
	}
	for _, m := range members {
		var job EmailJob
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			t.Fatalf("decoding job: %v", err)
		}
		if job.Email == "b@x.com" {
			t.Error("unconfirmed subscriber should not be queued")
		}
		if job.BroadcastID != status.ID || job.Template != domain.TemplateAnnouncement {
			t.Errorf("unexpected job %+v", job)
		}
	}
}

func TestFanOut_RejectsInvalidRequests(t *testing.T) {
	f, _, _ := setupTestFanOut(t)

	cases := map[string]domain.BroadcastRequest{
		"unknown template": {Template: "promo", Subject: "s", Message: "m"},
		"missing subject":  {Template: "update", Message: "m"},
		"missing message":  {Template: "launch", Subject: "s"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.FanOut(context.Background(), req)
			if !errors.Is(err, ErrInvalidBroadcast) {
				t.Errorf("expected ErrInvalidBroadcast, got %v", err)
			}
		})
	}
}

func TestFanOut_StatusTracksOutcomes(t *testing.T) {
	f, subs, _ := setupTestFanOut(t)
	ctx := context.Background()
	seed(t, subs, "a@x.com", true)
	seed(t, subs, "b@x.com", true)
	seed(t, subs, "c@x.com", true)

	status, err := f.FanOut(ctx, domain.BroadcastRequest{Subject: "Update", Message: "News"})
	if err != nil {
		t.Fatalf("FanOut: %v", err)
	}

	f.RecordOutcome(ctx, status.ID, OutcomeSent)
	f.RecordOutcome(ctx, status.ID, OutcomeFailed)
	got, err := f.RecordOutcome(ctx, status.ID, OutcomeSkipped)
	if err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	if got.Sent != 1 || got.Failed != 1 || got.Skipped != 1 || got.Total != 3 {
		t.Errorf("unexpected status %+v", got)
	}
	if !got.Done() {
		t.Error("broadcast should be done once every email is accounted for")
	}
}

func TestFanOut_StatusNotFound(t *testing.T) {
	f, _, _ := setupTestFanOut(t)

	_, err := f.Status(context.Background(), "missing")
	if !errors.Is(err, ErrBroadcastNotFound) {
		t.Errorf("expected ErrBroadcastNotFound, got %v", err)
	}
}

func TestFanOut_EmptyWaitlist(t *testing.T) {
	f, _, _ := setupTestFanOut(t)

	status, err := f.FanOut(context.Background(), domain.BroadcastRequest{Subject: "s", Message: "m"})
	if err != nil {
		t.Fatalf("FanOut: %v", err)
	}
	if status.Total != 0 || !status.Done() {
		t.Errorf("empty broadcast should be immediately done, got %+v", status)
	}
}
