package handlers

import (
	"context"
	"errors"
	"log/slog"
)

// ErrEmailNotSent is returned when the email capability reports failure
var ErrEmailNotSent = errors.New("handlers: email not sent")

// EmailSender sends transactional emails. Implementations report failure
// with false and log the cause themselves.
type EmailSender interface {
	SendPasswordResetEmail(ctx context.Context, to, resetLink, userName string) bool
	SendWelcomeEmail(ctx context.Context, to, userName string) bool
}

// MediaUpdater stores the public URL of an uploaded file on the owning entity
type MediaUpdater interface {
	UpdateAvatar(ctx context.Context, userID, fileURL string) error
	UpdateTripThumbnail(ctx context.Context, tripID, fileURL string) error
	UpdateCardImage(ctx context.Context, cardID, fileURL string) error
}

// LogMediaUpdater only logs the updates it receives
type LogMediaUpdater struct {
	logger *slog.Logger
}

var _ MediaUpdater = (*LogMediaUpdater)(nil)

// NewLogMediaUpdater creates a MediaUpdater that logs at info level
func NewLogMediaUpdater(logger *slog.Logger) *LogMediaUpdater {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMediaUpdater{logger: logger}
}

func (u *LogMediaUpdater) UpdateAvatar(_ context.Context, userID, fileURL string) error {
	u.logger.Info("avatar updated", "userId", userID, "fileUrl", fileURL)
	return nil
}

func (u *LogMediaUpdater) UpdateTripThumbnail(_ context.Context, tripID, fileURL string) error {
	u.logger.Info("trip thumbnail updated", "tripId", tripID, "fileUrl", fileURL)
	return nil
}

func (u *LogMediaUpdater) UpdateCardImage(_ context.Context, cardID, fileURL string) error {
	u.logger.Info("card image updated", "cardId", cardID, "fileUrl", fileURL)
	return nil
}
