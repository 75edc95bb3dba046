package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/glimte/domainbus/contracts"
	"github.com/glimte/domainbus/messaging"
)

// Typed adapts a handler of decoded eventData to messaging.EventHandler.
// Payloads that do not decode into T are rejected.
func Typed[T any](fn func(ctx context.Context, data T) error) messaging.EventHandler {
	return func(ctx context.Context, env contracts.Envelope) error {
		data, err := contracts.DecodeData[T](env)
		if err != nil {
			return err
		}
		return fn(ctx, data)
	}
}

// Deps are the collaborators shared by the handlers
type Deps struct {
	Emails      EmailSender
	Media       MediaUpdater
	FrontendURL string
	Logger      *slog.Logger
}

// Register installs every handler on reg. A nil Media falls back to a
// LogMediaUpdater.
func Register(reg *messaging.Registry, deps Deps) error {
	if deps.Emails == nil {
		return errors.New("handlers: an email sender is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Media == nil {
		deps.Media = NewLogMediaUpdater(deps.Logger)
	}

	passwordReset := NewPasswordResetHandler(deps.Emails, deps.FrontendURL, deps.Logger)
	userRegistered := NewUserRegisteredHandler(deps.Emails, deps.Logger)
	files := NewFileUploadedHandler(deps.Media, deps.Logger)
	trips := NewTripCreatedHandler(deps.Logger)

	return errors.Join(
		reg.Register(contracts.PasswordResetRequested, Typed(passwordReset.Handle)),
		reg.Register(contracts.UserRegistered, Typed(userRegistered.Handle)),
		reg.Register(contracts.FileUploaded, Typed(files.Handle)),
		reg.Register(contracts.AvatarUploaded, Typed(files.HandleAvatar)),
		reg.Register(contracts.TripCreated, Typed(trips.Handle)),
	)
}
