package store

import (
	"context"
	"errors"
	"time"

	"github.com/aurlink/waitlist/internal/domain"
)

var (
	ErrDuplicateEmail      = errors.New("email already subscribed")
	ErrDuplicateInviteCode = errors.New("invite code already taken")
	ErrNotFound            = errors.New("subscriber not found")
)

// SubscriberStore persists waitlist subscribers. Implementations assign
// positions themselves so that concurrent inserts stay dense and unique.
type SubscriberStore interface {
	// Insert sets sub.Position to the next free position and persists sub.
	// It returns ErrDuplicateEmail if the email is already present and
	// ErrDuplicateInviteCode if sub.InviteCode belongs to someone else.
	Insert(ctx context.Context, sub *domain.Subscriber) error
	GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error)
	GetByInviteCode(ctx context.Context, code string) (*domain.Subscriber, error)
	// Confirm marks the subscriber owning token as confirmed and returns it.
	Confirm(ctx context.Context, token string) (*domain.Subscriber, error)
	IncrementReferralCount(ctx context.Context, inviteCode string) error
	Count(ctx context.Context) (int, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
	ListByPosition(ctx context.Context) ([]domain.Subscriber, error)
	Ping(ctx context.Context) error
	Close() error
}
