package models

import (
	"sort"
	"time"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether a booking in this status occupies its slots.
func (s BookingStatus) IsActive() bool {
	return s == BookingPending || s == BookingConfirmed
}

// SlotStatus is the status an occupied slot takes from its booking.
func (s BookingStatus) SlotStatus() SlotStatus {
	switch s {
	case BookingPending:
		return SlotPending
	case BookingConfirmed:
		return SlotConfirmed
	default:
		return SlotAvailable
	}
}

// CanTransitionTo reports whether the lifecycle allows s -> to.
// Transitions only move forward; cancelled is terminal.
func (s BookingStatus) CanTransitionTo(to BookingStatus) bool {
	switch s {
	case BookingPending:
		return to == BookingConfirmed || to == BookingCancelled
	case BookingConfirmed:
		return to == BookingCancelled
	case BookingCancelled:
		return false
	default:
		return false
	}
}

// Actor is who requests a transition.
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorOperator Actor = "operator"
	ActorSystem   Actor = "system"
)

// CancelReason records why a booking left the active set.
type CancelReason string

const (
	CancelByCustomer CancelReason = "customer"
	CancelByOperator CancelReason = "operator"
	CancelExpired    CancelReason = "expired"
)

// Contact is the customer's reachable identity.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// Booking is one customer's claim over one or more slots on a single date.
type Booking struct {
	ID                   string        `json:"id"`
	Contact              Contact       `json:"contact"`
	Notes                string        `json:"notes,omitempty"`
	Date                 string        `json:"date"`
	Hours                []int         `json:"hours"`
	Status               BookingStatus `json:"status"`
	CancelReason         CancelReason  `json:"cancel_reason,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	ConfirmationDeadline time.Time     `json:"confirmation_deadline"`
	UpdatedAt            time.Time     `json:"updated_at"`
	Version              int64         `json:"version"`
}

// Slots lists the slot ids held by the booking in ascending hour order.
func (b *Booking) Slots() []SlotID {
	hours := append([]int(nil), b.Hours...)
	sort.Ints(hours)
	ids := make([]SlotID, 0, len(hours))
	for _, h := range hours {
		ids = append(ids, SlotID{Date: b.Date, Hour: h})
	}
	return ids
}

// EarliestSlot returns the first slot of the booking.
func (b *Booking) EarliestSlot() SlotID {
	earliest := LastHour + 1
	for _, h := range b.Hours {
		if h < earliest {
			earliest = h
		}
	}
	return SlotID{Date: b.Date, Hour: earliest}
}

// Clone returns a deep copy safe to hand outside a store.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	c.Hours = append([]int(nil), b.Hours...)
	return &c
}
