package handlers

import (
	"context"
	"log/slog"

	"github.com/glimte/domainbus/contracts"
)

// TripCreatedHandler records trip creation in the log
type TripCreatedHandler struct {
	logger *slog.Logger
}

// NewTripCreatedHandler creates the trip creation logger
func NewTripCreatedHandler(logger *slog.Logger) *TripCreatedHandler {
	return &TripCreatedHandler{logger: logger}
}

// Handle logs the created trip
func (h *TripCreatedHandler) Handle(_ context.Context, data contracts.TripCreatedData) error {
	h.logger.Info("trip created event received",
		"tripId", data.TripID,
		"userId", data.UserID)
	h.logger.Info("trip created",
		"tripId", data.TripID,
		"title", data.Title,
		"occurredOn", data.OccurredOn)
	return nil
}
