package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"slotbook/internal/clock"
	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NotificationRegistry keeps notify-me requests per slot. Duplicates are kept.
type NotificationRegistry struct {
	store  domain.NotificationStore
	clock  clock.Clock
	loc    *time.Location
	logger *zerolog.Logger
}

func NewNotificationRegistry(store domain.NotificationStore, clk clock.Clock, loc *time.Location, logger *zerolog.Logger) *NotificationRegistry {
	if clk == nil {
		clk = clock.System{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "notifications").Logger()
	return &NotificationRegistry{store: store, clock: clk, loc: loc, logger: &l}
}

// Register appends a request for slot. It expires when the slot starts.
func (r *NotificationRegistry) Register(ctx context.Context, slot models.SlotID, email, phone string) (*models.NotificationRequest, error) {
	email = strings.TrimSpace(email)
	phone = strings.TrimSpace(phone)
	if email == "" || !validEmail(email) {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidContact)
	}

	start, err := slot.Start(r.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}

	req := models.NotificationRequest{
		ID:        uuid.NewString(),
		SlotID:    slot,
		Email:     email,
		Phone:     phone,
		CreatedAt: r.clock.Now(),
	}
	if err := r.store.Append(ctx, req, start); err != nil {
		r.logger.Error().Err(err).Str("slot", slot.String()).Msg("append notification failed")
		return nil, fmt.Errorf("append notification: %w", err)
	}

	r.logger.Debug().Str("slot", slot.String()).Str("request_id", req.ID).Msg("notification registered")
	return &req, nil
}

// Drain returns and clears every request for slot. On error it still returns
// whatever the store managed to read.
func (r *NotificationRegistry) Drain(ctx context.Context, slot models.SlotID) ([]models.NotificationRequest, error) {
	reqs, err := r.store.Drain(ctx, slot)
	if err != nil {
		return reqs, fmt.Errorf("drain notifications: %w", err)
	}
	return reqs, nil
}
