package store

import (
	"context"
	"sync"
	"time"

	"github.com/aurlink/waitlist/internal/domain"
)

// MemoryStore keeps subscribers in process memory. Data is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	byEmail map[string]*domain.Subscriber
	ordered []*domain.Subscriber
}

func NewMemory() *MemoryStore {
	return &MemoryStore{byEmail: make(map[string]*domain.Subscriber)}
}

func (s *MemoryStore) Insert(_ context.Context, sub *domain.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[sub.Email]; ok {
		return ErrDuplicateEmail
	}
	if s.findInvite(sub.InviteCode) != nil {
		return ErrDuplicateInviteCode
	}

	sub.Position = len(s.ordered) + 1
	stored := *sub
	s.byEmail[stored.Email] = &stored
	s.ordered = append(s.ordered, &stored)
	return nil
}

func (s *MemoryStore) GetByEmail(_ context.Context, email string) (*domain.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	out := *sub
	return &out, nil
}

func (s *MemoryStore) GetByInviteCode(_ context.Context, code string) (*domain.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub := s.findInvite(code); sub != nil {
		out := *sub
		return &out, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Confirm(_ context.Context, token string) (*domain.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.ordered {
		if sub.ConfirmationToken != "" && sub.ConfirmationToken == token {
			sub.Confirmed = true
			out := *sub
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) IncrementReferralCount(_ context.Context, inviteCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.findInvite(inviteCode)
	if sub == nil {
		return ErrNotFound
	}
	sub.ReferralCount++
	return nil
}

// findInvite must be called with mu held.
func (s *MemoryStore) findInvite(code string) *domain.Subscriber {
	if code == "" {
		return nil
	}
	for _, sub := range s.ordered {
		if sub.InviteCode == code {
			return sub
		}
	}
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered), nil
}

func (s *MemoryStore) CountSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sub := range s.ordered {
		if !sub.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListByPosition(_ context.Context) ([]domain.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Subscriber, len(s.ordered))
	for i, sub := range s.ordered {
		out[i] = *sub
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
