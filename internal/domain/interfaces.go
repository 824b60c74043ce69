package domain

import (
	"context"
	"time"

	"slotbook/internal/models"
)

// BookingStore persists bookings keyed by id and queryable by date and hour.
// Implementations must return copies; callers may mutate what they receive.
type BookingStore interface {
	// CreateBooking stores a new booking as the sole occupant of its slots.
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	// UpdateBooking writes status, cancel reason and version; a cancelled booking
	// stops occupying its slots.
	UpdateBooking(ctx context.Context, booking *models.Booking) error
	ActiveBookingsForDate(ctx context.Context, date string) ([]*models.Booking, error)
	ActiveBookingAt(ctx context.Context, slot models.SlotID) (*models.Booking, error)
	// PendingDueBefore lists pending bookings whose deadline is at or before t.
	PendingDueBefore(ctx context.Context, t time.Time) ([]*models.Booking, error)
	// ListBookings returns bookings matching filter ordered by date, creation and id.
	ListBookings(ctx context.Context, filter BookingFilter) ([]*models.Booking, error)
	Ping(ctx context.Context) error
}

// BookingFilter narrows ListBookings. Empty fields match everything; From and
// To are inclusive YYYY-MM-DD dates.
type BookingFilter struct {
	Status models.BookingStatus
	From   string
	To     string
}

// NotificationStore keeps notify-me requests per slot.
type NotificationStore interface {
	// Append adds a request; expiresAt is a hint after which it is useless.
	Append(ctx context.Context, req models.NotificationRequest, expiresAt time.Time) error
	// Drain returns and removes every request for the slot.
	Drain(ctx context.Context, slot models.SlotID) ([]models.NotificationRequest, error)
}

// MaintenanceCalendar marks slots that can never be booked.
type MaintenanceCalendar interface {
	IsBlocked(date string, hour int) bool
}

// ReleaseHandler receives freed slots and their drained requests.
// Calls must not block the engine.
type ReleaseHandler interface {
	HandleReleases(ctx context.Context, releases []models.SlotRelease)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
