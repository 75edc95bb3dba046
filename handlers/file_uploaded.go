package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/glimte/domainbus/contracts"
)

// FileUploadedHandler points the owning entity at a newly stored file
type FileUploadedHandler struct {
	media  MediaUpdater
	logger *slog.Logger
}

// NewFileUploadedHandler routes uploads to media
func NewFileUploadedHandler(media MediaUpdater, logger *slog.Logger) *FileUploadedHandler {
	return &FileUploadedHandler{media: media, logger: logger}
}

// Handle routes by category. Unknown categories are logged and acknowledged.
func (h *FileUploadedHandler) Handle(ctx context.Context, data contracts.FileUploadedData) error {
	h.logger.Info("processing uploaded file",
		"category", data.Category,
		"fileKey", data.FileKey,
		"entityId", data.EntityID)

	var update func(context.Context, string, string) error
	switch data.Category {
	case contracts.CategoryAvatar:
		update = h.media.UpdateAvatar
	case contracts.CategoryTrip:
		update = h.media.UpdateTripThumbnail
	case contracts.CategoryCard:
		update = h.media.UpdateCardImage
	default:
		h.logger.Warn("unknown file category, ignoring",
			"category", data.Category,
			"fileKey", data.FileKey)
		return nil
	}

	if data.EntityID == "" {
		return fmt.Errorf("%w: %s upload %s has no entityId", contracts.ErrInvalidEvent, data.Category, data.FileKey)
	}
	if err := update(ctx, data.EntityID, data.FileURL); err != nil {
		return fmt.Errorf("update %s %s: %w", data.Category, data.EntityID, err)
	}
	return nil
}

// HandleAvatar applies AvatarUploadedEvent
func (h *FileUploadedHandler) HandleAvatar(ctx context.Context, data contracts.AvatarUploadedData) error {
	if data.UserID <= 0 {
		return fmt.Errorf("%w: avatar upload %s has no userId", contracts.ErrInvalidEvent, data.FileKey)
	}
	userID := strconv.FormatInt(data.UserID, 10)
	if err := h.media.UpdateAvatar(ctx, userID, data.FileURL); err != nil {
		return fmt.Errorf("update avatar %s: %w", userID, err)
	}
	return nil
}
