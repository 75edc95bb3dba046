package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/glimte/domainbus/contracts"
)

// PasswordResetHandler emails the reset link for PasswordResetRequestedEvent
type PasswordResetHandler struct {
	emails      EmailSender
	frontendURL string
	logger      *slog.Logger
}

// NewPasswordResetHandler builds reset links under frontendURL
func NewPasswordResetHandler(emails EmailSender, frontendURL string, logger *slog.Logger) *PasswordResetHandler {
	return &PasswordResetHandler{
		emails:      emails,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

// ResetLink builds the frontend URL the user follows to choose a new password
func (h *PasswordResetHandler) ResetLink(token string) string {
	return h.frontendURL + "/auth/reset-password?token=" + url.QueryEscape(token)
}

// Handle sends the reset email for one event
func (h *PasswordResetHandler) Handle(ctx context.Context, data contracts.PasswordResetRequestedData) error {
	to, err := contracts.NewEmail(data.Email)
	if err != nil {
		return err
	}
	if data.Token == "" {
		return fmt.Errorf("%w: password reset without token", contracts.ErrInvalidEvent)
	}

	h.logger.Info("processing password reset", "email", to.Value())

	if !h.emails.SendPasswordResetEmail(ctx, to.Value(), h.ResetLink(data.Token), data.UserName) {
		return fmt.Errorf("%w: password reset to %s", ErrEmailNotSent, to.Value())
	}

	h.logger.Info("password reset email sent", "email", to.Value())
	return nil
}
