package domain

import "errors"

var (
	// ErrBookingNotFound is returned by stores for an unknown booking id.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrSlotClaimed is returned by stores when a slot already has an active occupant.
	ErrSlotClaimed = errors.New("slot already claimed")

	// ErrConcurrentModification is returned by UpdateBooking when the stored
	// version is not the one the update was derived from.
	ErrConcurrentModification = errors.New("concurrent modification")
)
