// Package waitlist implements signup, confirmation and reporting for the
// launch waitlist.
package waitlist

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aurlink/waitlist/internal/domain"
	"github.com/aurlink/waitlist/internal/notify"
	"github.com/aurlink/waitlist/internal/pkg/logger"
	"github.com/aurlink/waitlist/internal/store"
	"github.com/aurlink/waitlist/internal/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	recentWindow = 7 * 24 * time.Hour

	inviteCodeAttempts = 3
)

// Publisher receives live waitlist events. *websocket.Hub satisfies it.
type Publisher interface {
	Publish(event websocket.WaitlistEvent)
}

type Options struct {
	RequireConfirmation bool
	PublicURL           string
	NotifyTimeout       time.Duration
}

type Service struct {
	store     store.SubscriberStore
	notifier  notify.Notifier
	renderer  *notify.Renderer
	publisher Publisher
	opts      Options
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

func NewService(st store.SubscriberStore, notifier notify.Notifier, renderer *notify.Renderer, opts Options, logger *slog.Logger) *Service {
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 15 * time.Second
	}
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	return &Service{
		store:    st,
		notifier: notifier,
		renderer: renderer,
		opts:     opts,
		logger:   logger,
		tracer:   otel.Tracer("github.com/aurlink/waitlist/internal/waitlist"),
		now:      time.Now,
	}
}

// WithPublisher attaches a live event sink.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

// WithTracer replaces the global tracer, mainly for tests.
func (s *Service) WithTracer(t trace.Tracer) *Service {
	s.tracer = t
	return s
}

// Subscribe adds a new email to the end of the waitlist. An address that is
// already present yields a *domain.DuplicateSubscriberError carrying its
// original position.
func (s *Service) Subscribe(ctx context.Context, req domain.SubscribeRequest) (*domain.SubscribeResult, error) {
	ctx, span := s.tracer.Start(ctx, "waitlist.subscribe")
	defer span.End()

	email := NormalizeEmail(req.Email)
	span.SetAttributes(attribute.String("subscriber.email", logger.RedactEmail(email)))

	if !ValidateEmail(email) {
		span.SetStatus(codes.Error, "invalid email")
		return nil, domain.ErrInvalidEmail
	}

	existing, err := s.store.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, s.duplicate(span, existing)
	case !errors.Is(err, store.ErrNotFound):
		return nil, s.fail(span, fmt.Errorf("looking up subscriber: %w", err))
	}

	sub := &domain.Subscriber{
		ID:                uuid.NewString(),
		Email:             email,
		ReferralCode:      SanitizeInput(req.ReferralCode),
		Source:            SanitizeInput(req.Source),
		Confirmed:         !s.opts.RequireConfirmation,
		ConfirmationToken: uuid.NewString(),
		CreatedAt:         s.now().UTC(),
	}

	if err := s.insert(ctx, sub); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			// Lost a race with a concurrent signup for the same address.
			if existing, lookupErr := s.store.GetByEmail(ctx, email); lookupErr == nil {
				return nil, s.duplicate(span, existing)
			}
		}
		return nil, s.fail(span, fmt.Errorf("saving subscriber: %w", err))
	}

	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("counting subscribers: %w", err))
	}

	s.creditReferral(ctx, sub)
	s.notifyAsync(ctx, *sub, signupExtras{
		userName:      SanitizeInput(req.UserName),
		customMessage: SanitizeInput(req.CustomMessage),
	})
	s.publish(websocket.WaitlistEvent{
		Type:     websocket.EventSubscriberJoined,
		Email:    logger.RedactEmail(sub.Email),
		Position: sub.Position,
		Total:    total,
	})

	span.SetAttributes(
		attribute.Int("subscriber.position", sub.Position),
		attribute.Int("waitlist.total", total),
	)
	s.logger.Info("subscriber added",
		"email", logger.RedactEmail(sub.Email),
		"position", sub.Position,
		"total", total,
		"source", sub.Source,
	)

	return &domain.SubscribeResult{Subscriber: sub, TotalSubscribers: total}, nil
}

func (s *Service) duplicate(span trace.Span, existing *domain.Subscriber) error {
	span.SetAttributes(attribute.Bool("subscriber.duplicate", true))
	return &domain.DuplicateSubscriberError{Email: existing.Email, Position: existing.Position}
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// creditReferral bumps the referrer's count when the signup used someone's
// invite code. Failures are logged and never fail the signup.
func (s *Service) creditReferral(ctx context.Context, sub *domain.Subscriber) {
	// Invite codes are lower-case hex.
	code := strings.ToLower(sub.ReferralCode)
	if code == "" || code == sub.InviteCode {
		return
	}
	err := s.store.IncrementReferralCount(ctx, code)
	switch {
	case err == nil:
		s.logger.Info("referral credited", "invite_code", sub.ReferralCode)
	case errors.Is(err, store.ErrNotFound):
		s.logger.Debug("referral code does not match a subscriber", "referral_code", sub.ReferralCode)
	default:
		s.logger.Warn("failed to credit referral", "error", err, "referral_code", sub.ReferralCode)
	}
}

// signupExtras are request fields that only feed the signup email.
type signupExtras struct {
	userName      string
	customMessage string
}

// notifyAsync sends the welcome (or confirmation) email in the background.
// The send outlives the request but not NotifyTimeout, and is attempted once.
func (s *Service) notifyAsync(ctx context.Context, sub domain.Subscriber, extras signupExtras) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("service closing, skipping notification", "email", logger.RedactEmail(sub.Email))
		return
	}
	s.pending.Add(1)
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(ctx, s.opts.NotifyTimeout)
		defer cancel()

		if err := s.sendSignupEmail(ctx, sub, extras); err != nil {
			s.logger.Error("signup email failed",
				"error", err,
				"email", logger.RedactEmail(sub.Email),
				"provider", s.notifier.Name(),
			)
		}
	}()
}

func (s *Service) sendSignupEmail(ctx context.Context, sub domain.Subscriber, extras signupExtras) error {
	ctx, span := s.tracer.Start(ctx, "waitlist.notify")
	defer span.End()

	template := domain.TemplateWelcome
	data := notify.TemplateData{
		Email:         sub.Email,
		Position:      sub.Position,
		UserName:      extras.userName,
		CustomMessage: extras.customMessage,
		InviteURL:     s.opts.PublicURL + "/?ref=" + url.QueryEscape(sub.InviteCode),
	}
	if !sub.Confirmed {
		template = domain.TemplateConfirm
		data.ConfirmURL = s.opts.PublicURL + "/api/confirm?token=" + url.QueryEscape(sub.ConfirmationToken)
	}
	span.SetAttributes(attribute.String("email.template", template))

	msg, err := s.renderer.Render(template, data)
	if err != nil {
		return s.fail(span, fmt.Errorf("rendering %s email: %w", template, err))
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		return s.fail(span, fmt.Errorf("sending %s email: %w", template, err))
	}
	return nil
}

// Confirm marks the subscriber holding token as confirmed. Confirming twice
// is not an error.
func (s *Service) Confirm(ctx context.Context, token string) (*domain.Subscriber, error) {
	ctx, span := s.tracer.Start(ctx, "waitlist.confirm")
	defer span.End()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrTokenNotFound
	}

	sub, err := s.store.Confirm(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, s.fail(span, fmt.Errorf("confirming subscriber: %w", err))
	}

	s.publish(websocket.WaitlistEvent{
		Type:     websocket.EventSubscriberConfirmed,
		Email:    logger.RedactEmail(sub.Email),
		Position: sub.Position,
	})
	s.logger.Info("subscriber confirmed", "email", logger.RedactEmail(sub.Email), "position", sub.Position)
	return sub, nil
}

// Stats returns the total size of the waitlist and how many joined in the
// last seven days.
func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	ctx, span := s.tracer.Start(ctx, "waitlist.stats")
	defer span.End()

	total, err := s.store.Count(ctx)
	if err != nil {
		return domain.Stats{}, s.fail(span, fmt.Errorf("counting subscribers: %w", err))
	}
	recent, err := s.store.CountSince(ctx, s.now().Add(-recentWindow))
	if err != nil {
		return domain.Stats{}, s.fail(span, fmt.Errorf("counting recent subscribers: %w", err))
	}
	return domain.Stats{Total: total, Last7Days: recent}, nil
}

// Export returns every subscriber ordered by position.
func (s *Service) Export(ctx context.Context) ([]domain.Subscriber, error) {
	ctx, span := s.tracer.Start(ctx, "waitlist.export")
	defer span.End()

	subs, err := s.store.ListByPosition(ctx)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("listing subscribers: %w", err))
	}
	if subs == nil {
		subs = []domain.Subscriber{}
	}
	span.SetAttributes(attribute.Int("waitlist.count", len(subs)))
	return subs, nil
}

// Lookup finds a subscriber by email. Unknown addresses return store.ErrNotFound.
func (s *Service) Lookup(ctx context.Context, email string) (*domain.Subscriber, error) {
	sub, err := s.store.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("looking up subscriber: %w", err)
	}
	return sub, nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close stops accepting new notifications and waits for in-flight ones
// until ctx is done.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pending notifications: %w", ctx.Err())
	}
}

func (s *Service) publish(event websocket.WaitlistEvent) {
	if s.publisher != nil {
		s.publisher.Publish(event)
	}
}

// insert stores sub under a fresh invite code, drawing a new one when the
// code collides with an existing subscriber's.
func (s *Service) insert(ctx context.Context, sub *domain.Subscriber) error {
	var err error
	for i := 0; i < inviteCodeAttempts; i++ {
		sub.InviteCode, err = newInviteCode()
		if err != nil {
			return err
		}
		err = s.store.Insert(ctx, sub)
		if !errors.Is(err, store.ErrDuplicateInviteCode) {
			return err
		}
		s.logger.Warn("invite code collision, retrying", "email", logger.RedactEmail(sub.Email))
	}
	return err
}

func newInviteCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating invite code: %w", err)
	}
	return hex.EncodeToString(b), nil
}
