package models

import "time"

// NotificationRequest is a standing request to hear when an occupied slot frees up.
type NotificationRequest struct {
	ID        string    `json:"id"`
	SlotID    SlotID    `json:"slot_id"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SlotRelease pairs a freed slot with the requests drained for it.
type SlotRelease struct {
	Slot     SlotID                `json:"slot"`
	Requests []NotificationRequest `json:"requests"`
}

// Grid is the full-day projection returned to callers.
type Grid struct {
	Date  string `json:"date"`
	Slots []Slot `json:"slots"`
}

// FreedSlotNotice is one delivery to one waiting customer.
type FreedSlotNotice struct {
	RequestID  string    `json:"request_id"`
	Slot       SlotID    `json:"slot"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone,omitempty"`
	ReleasedAt time.Time `json:"released_at"`
}
