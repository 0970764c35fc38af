package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aurlink/waitlist/internal/domain"
	"github.com/aurlink/waitlist/internal/engine"
	"github.com/aurlink/waitlist/internal/notify"
	"github.com/aurlink/waitlist/internal/pkg/logger"
	ws "github.com/aurlink/waitlist/internal/websocket"
)

// OutcomeRecorder tallies the result of each broadcast email.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, broadcastID, outcome string) (*domain.BroadcastStatus, error)
}

// Publisher receives broadcast progress events.
type Publisher interface {
	Publish(event ws.WaitlistEvent)
}

// Requeuer puts a job back on the queue to run later.
type Requeuer interface {
	Requeue(ctx context.Context, job engine.EmailJob, at time.Time) error
}

// Throttle limits how fast the provider is called.
type Throttle interface {
	Allow(ctx context.Context, scope, key string) bool
	Window() time.Duration
}

// Mailer renders and sends one broadcast email per job. Each job is sent
// at most once: provider errors are counted as failed, and a send refused
// by an open circuit is counted as skipped.
type Mailer struct {
	notifier notify.Notifier
	renderer *notify.Renderer
	recorder OutcomeRecorder
	logger   *slog.Logger

	publisher Publisher
	throttle  Throttle
	requeuer  Requeuer
}

func NewMailer(n notify.Notifier, r *notify.Renderer, rec OutcomeRecorder, logger *slog.Logger) *Mailer {
	return &Mailer{notifier: n, renderer: r, recorder: rec, logger: logger}
}

func (m *Mailer) WithPublisher(p Publisher) *Mailer {
	m.publisher = p
	return m
}

// WithThrottle delays jobs through rq whenever t refuses a send.
func (m *Mailer) WithThrottle(t Throttle, rq Requeuer) *Mailer {
	m.throttle = t
	m.requeuer = rq
	return m
}

// Handle implements JobHandler.
func (m *Mailer) Handle(ctx context.Context, job engine.EmailJob) {
	log := m.logger.With("broadcast_id", job.BroadcastID, "email", logger.RedactEmail(job.Email))

	if m.throttle != nil && m.requeuer != nil && !m.throttle.Allow(ctx, "notify", m.notifier.Name()) {
		err := m.requeuer.Requeue(ctx, job, time.Now().Add(m.throttle.Window()))
		if err == nil {
			log.Debug("send throttled, job requeued")
			return
		}
		log.Error("failed to requeue throttled job, sending now", "error", err)
	}

	outcome := m.send(ctx, job, log)

	status, err := m.recorder.RecordOutcome(ctx, job.BroadcastID, outcome)
	if err != nil {
		log.Error("failed to record outcome", "outcome", outcome, "error", err)
		return
	}

	if m.publisher != nil {
		m.publisher.Publish(ws.WaitlistEvent{
			Type:        ws.EventBroadcastProgress,
			BroadcastID: status.ID,
			Total:       status.Total,
			Sent:        status.Sent,
			Failed:      status.Failed,
			Skipped:     status.Skipped,
		})
	}
	if status.Done() {
		log.Info("broadcast complete",
			"total", status.Total,
			"sent", status.Sent,
			"failed", status.Failed,
			"skipped", status.Skipped,
		)
	}
}

func (m *Mailer) send(ctx context.Context, job engine.EmailJob, log *slog.Logger) string {
	msg, err := m.renderer.Render(job.Template, notify.TemplateData{
		Email:    job.Email,
		Position: job.Position,
		Subject:  job.Subject,
		Message:  job.Message,
		CTALink:  job.CTALink,
		CTAText:  job.CTAText,
	})
	if err != nil {
		log.Error("failed to render broadcast email", "template", job.Template, "error", err)
		return engine.OutcomeFailed
	}

	err = m.notifier.Send(ctx, msg)
	switch {
	case err == nil:
		return engine.OutcomeSent
	case errors.Is(err, notify.ErrCircuitOpen):
		log.Warn("email provider circuit open, skipping")
		return engine.OutcomeSkipped
	default:
		log.Error("broadcast email failed", "provider", m.notifier.Name(), "error", err)
		return engine.OutcomeFailed
	}
}
