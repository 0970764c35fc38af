// Package notify sends waitlist emails through one configured provider.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aurlink/waitlist/internal/config"
)

// Message is a single rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Notifier delivers one message. Implementations make exactly one attempt.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// New builds the notifier selected by cfg.Provider.
func New(ctx context.Context, cfg config.EmailConfig, logger *slog.Logger) (Notifier, error) {
	from := formatFrom(cfg.FromName, cfg.FromAddress)
	httpClient := &http.Client{Timeout: 15 * time.Second}

	switch cfg.Provider {
	case "", "log":
		return NewLog(logger), nil
	case "resend":
		return NewResend(cfg.ResendAPIKey, from, cfg.ResendBaseURL, httpClient), nil
	case "sendgrid":
		return NewSendGrid(cfg.SendGridAPIKey, cfg.FromAddress, cfg.FromName, cfg.SendGridURL, httpClient), nil
	case "smtp":
		return NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, from), nil
	case "ses":
		return NewSES(ctx, cfg.SESRegion, cfg.SESAccessKey, cfg.SESSecretKey, from)
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

func formatFrom(name, address string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}
