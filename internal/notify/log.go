package notify

import (
	"context"
	"log/slog"

	"github.com/aurlink/waitlist/internal/pkg/logger"
)

// LogNotifier records messages instead of sending them. It is the default
// when no provider is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.logger.Info("email not sent, no provider configured",
		"to", logger.RedactEmail(msg.To),
		"subject", msg.Subject,
	)
	return nil
}
