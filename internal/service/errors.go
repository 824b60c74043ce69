package service

import (
	"errors"
	"fmt"

	"slotbook/internal/models"
)

var (
	// ErrSlotUnavailable: a requested slot is not free. Re-render the grid and retry.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrInvalidRange: hour outside the grid, malformed or past date, or date beyond the horizon.
	ErrInvalidRange = errors.New("invalid range")

	ErrNotFound = errors.New("booking not found")

	// ErrInvalidTransition: the lifecycle does not allow the requested move.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrDeadlinePassed: confirm attempted at or after the confirmation deadline.
	ErrDeadlinePassed = errors.New("confirmation deadline passed")

	ErrInvalidContact = errors.New("invalid contact")

	// ErrSlotNotOccupied: notify-me requested for a slot no booking holds.
	ErrSlotNotOccupied = errors.New("slot is not occupied")
)

// SlotUnavailableError names the first conflicting slot of a rejected reservation.
type SlotUnavailableError struct {
	Slot   models.SlotID
	Status models.SlotStatus
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("slot %s is %s", e.Slot, e.Status)
}

func (e *SlotUnavailableError) Unwrap() error { return ErrSlotUnavailable }

// TransitionError describes a rejected lifecycle move.
type TransitionError struct {
	BookingID string
	From      models.BookingStatus
	To        models.BookingStatus
	Reason    string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("booking %s: %s -> %s not allowed", e.BookingID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
