package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/domainbus/contracts"
)

// UserRegisteredHandler sends the welcome email
type UserRegisteredHandler struct {
	emails EmailSender
	logger *slog.Logger
}

// NewUserRegisteredHandler creates the welcome email handler
func NewUserRegisteredHandler(emails EmailSender, logger *slog.Logger) *UserRegisteredHandler {
	return &UserRegisteredHandler{emails: emails, logger: logger}
}

// Handle sends the welcome email for one event
func (h *UserRegisteredHandler) Handle(ctx context.Context, data contracts.UserRegisteredData) error {
	to, err := contracts.NewEmail(data.Email)
	if err != nil {
		return err
	}

	h.logger.Info("sending welcome email", "email", to.Value())

	if !h.emails.SendWelcomeEmail(ctx, to.Value(), data.Name) {
		return fmt.Errorf("%w: welcome to %s", ErrEmailNotSent, to.Value())
	}

	h.logger.Info("welcome email sent", "email", to.Value())
	return nil
}
