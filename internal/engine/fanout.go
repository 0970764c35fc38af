package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aurlink/waitlist/internal/domain"
	"github.com/aurlink/waitlist/internal/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	EmailQueueKey      = "email_queue"
	broadcastKeyPrefix = "broadcast:"
	broadcastTTL       = 7 * 24 * time.Hour
)

// Broadcast outcome counters kept on the status hash.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

var (
	ErrInvalidBroadcast  = errors.New("invalid broadcast")
	ErrBroadcastNotFound = errors.New("broadcast not found")
)

// EmailJob is one queued broadcast email.
type EmailJob struct {
	BroadcastID string `json:"broadcast_id"`
	Email       string `json:"email"`
	Position    int    `json:"position"`
	Template    string `json:"template"`
	Subject     string `json:"subject"`
	Message     string `json:"message"`
	CTALink     string `json:"cta_link,omitempty"`
	CTAText     string `json:"cta_text,omitempty"`
}

// FanOutEngine turns an admin broadcast into one queued EmailJob per
// confirmed subscriber and tracks its progress in Redis.
type FanOutEngine struct {
	subscribers store.SubscriberStore
	redisStore  *store.RedisStore
	logger      *slog.Logger
}

func NewFanOutEngine(subs store.SubscriberStore, rs *store.RedisStore, logger *slog.Logger) *FanOutEngine {
	return &FanOutEngine{
		subscribers: subs,
		redisStore:  rs,
		logger:      logger,
	}
}

func broadcastKey(id string) string {
	return broadcastKeyPrefix + id
}

// ValidateBroadcast normalises req in place.
func ValidateBroadcast(req *domain.BroadcastRequest) error {
	req.Template = strings.ToLower(strings.TrimSpace(req.Template))
	if req.Template == "" {
		req.Template = domain.TemplateAnnouncement
	}
	if !slices.Contains(domain.BroadcastTemplates, req.Template) {
		return fmt.Errorf("%w: unknown template %q", ErrInvalidBroadcast, req.Template)
	}
	req.Subject = strings.TrimSpace(req.Subject)
	req.Message = strings.TrimSpace(req.Message)
	if req.Template != domain.TemplateWelcome && (req.Subject == "" || req.Message == "") {
		return fmt.Errorf("%w: subject and message are required", ErrInvalidBroadcast)
	}
	return nil
}

// FanOut queues req for every confirmed subscriber and returns the initial status.
func (f *FanOutEngine) FanOut(ctx context.Context, req domain.BroadcastRequest) (*domain.BroadcastStatus, error) {
	if err := ValidateBroadcast(&req); err != nil {
		return nil, err
	}

	subs, err := f.subscribers.ListByPosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing subscribers: %w", err)
	}

	b := domain.Broadcast{
		ID:               uuid.NewString(),
		BroadcastRequest: req,
		CreatedAt:        time.Now().UTC(),
	}

	client := f.redisStore.Client()
	pipe := client.TxPipeline()
	queued := 0
	for _, sub := range subs {
		if !sub.Confirmed {
			continue
		}
		job := EmailJob{
			BroadcastID: b.ID,
			Email:       sub.Email,
			Position:    sub.Position,
			Template:    b.Template,
			Subject:     b.Subject,
			Message:     b.Message,
			CTALink:     b.CTALink,
			CTAText:     b.CTAText,
		}
		jobBytes, err := json.Marshal(job)
		if err != nil {
			f.logger.Error("failed to marshal email job", "error", err, "position", sub.Position)
			continue
		}
		pipe.ZAdd(ctx, EmailQueueKey, redis.Z{
			Score:  float64(time.Now().UnixMicro()),
			Member: string(jobBytes),
		})
		queued++
	}

	key := broadcastKey(b.ID)
	pipe.HSet(ctx, key,
		"template", b.Template,
		"subject", b.Subject,
		"total", queued,
		OutcomeSent, 0,
		OutcomeFailed, 0,
		OutcomeSkipped, 0,
		"created_at", b.CreatedAt.Unix(),
	)
	pipe.Expire(ctx, key, broadcastTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queuing broadcast to redis: %w", err)
	}

	f.logger.Info("broadcast fan-out complete",
		"broadcast_id", b.ID,
		"template", b.Template,
		"emails_queued", queued,
	)

	return &domain.BroadcastStatus{
		ID:        b.ID,
		Template:  b.Template,
		Total:     queued,
		CreatedAt: b.CreatedAt,
	}, nil
}

// RecordOutcome bumps one outcome counter of a broadcast and returns the
// updated status.
func (f *FanOutEngine) RecordOutcome(ctx context.Context, broadcastID, outcome string) (*domain.BroadcastStatus, error) {
	if err := f.redisStore.Client().HIncrBy(ctx, broadcastKey(broadcastID), outcome, 1).Err(); err != nil {
		return nil, fmt.Errorf("recording %s outcome: %w", outcome, err)
	}
	return f.Status(ctx, broadcastID)
}

// Status returns the progress of a broadcast.
func (f *FanOutEngine) Status(ctx context.Context, broadcastID string) (*domain.BroadcastStatus, error) {
	data, err := f.redisStore.Client().HGetAll(ctx, broadcastKey(broadcastID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading broadcast status: %w", err)
	}
	if len(data) == 0 || data["total"] == "" {
		return nil, ErrBroadcastNotFound
	}

	atoi := func(field string) int {
		n, _ := strconv.Atoi(data[field])
		return n
	}
	created, _ := strconv.ParseInt(data["created_at"], 10, 64)

	return &domain.BroadcastStatus{
		ID:        broadcastID,
		Template:  data["template"],
		Total:     atoi("total"),
		Sent:      atoi(OutcomeSent),
		Failed:    atoi(OutcomeFailed),
		Skipped:   atoi(OutcomeSkipped),
		CreatedAt: time.Unix(created, 0).UTC(),
	}, nil
}

// QueueDepth returns the number of emails waiting in the queue.
func (f *FanOutEngine) QueueDepth(ctx context.Context) (int64, error) {
	return f.redisStore.Client().ZCard(ctx, EmailQueueKey).Result()
}
