package notifications

import (
	"context"
	"log/slog"

	"transferdesk/internal/observability"
)

// LogSender writes resolved messages to the structured log instead of
// delivering them. It is the default Sender until an outbound email or
// webhook transport is configured.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender() *LogSender {
	return &LogSender{log: observability.GlobalLogger.Logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info("notification dispatched",
		"template", string(msg.Template),
		"recipients", len(msg.Recipients),
		"actor_email", msg.ActorEmail,
	)
	return nil
}
