package email

import (
	"context"
	"log/slog"

	"github.com/glimte/domainbus/metrics"
)

// LogSender writes emails to the log instead of sending them
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a sender that only logs
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendPasswordResetEmail(_ context.Context, to, resetLink, userName string) bool {
	s.logger.Info("password reset email",
		"to", to,
		"resetLink", resetLink,
		"userName", userName)
	metrics.RecordEmail(kindPasswordReset, true)
	return true
}

func (s *LogSender) SendWelcomeEmail(_ context.Context, to, userName string) bool {
	s.logger.Info("welcome email", "to", to, "userName", userName)
	metrics.RecordEmail(kindWelcome, true)
	return true
}
