// Package email implements the transactional email capability used by the
// event handlers.
package email

import (
	"fmt"
	"log/slog"

	"github.com/glimte/domainbus/config"
	"github.com/glimte/domainbus/handlers"
)

var (
	_ handlers.EmailSender = (*SMTPSender)(nil)
	_ handlers.EmailSender = (*LogSender)(nil)
)

// New selects the sender named by cfg.Provider
func New(cfg config.EmailConfig, logger *slog.Logger) (handlers.EmailSender, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Provider {
	case "smtp":
		logger.Info("email provider configured", "provider", cfg.Provider, "host", cfg.SMTPHost)
		return NewSMTPSender(SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUser,
			Password:    cfg.SMTPPassword,
			FromAddress: cfg.FromAddress,
			FromName:    cfg.FromName,
		}, WithSMTPLogger(logger)), nil
	case "log", "":
		logger.Info("email provider configured", "provider", "log")
		return NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("email: unknown provider %q", cfg.Provider)
	}
}
