package events

import (
	"encoding/json"
	"sync"
	"time"

	"slotbook/internal/models"
)

const (
	EventBookingReserved  = "booking_reserved"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingCancelled = "booking_cancelled"
	EventBookingExpired   = "booking_expired"
	EventSlotsReleased    = "slots_released"
)

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID            string               `json:"booking_id"`
	Date                 string               `json:"date"`
	Hours                []int                `json:"hours"`
	Status               models.BookingStatus `json:"status"`
	CancelReason         models.CancelReason  `json:"cancel_reason,omitempty"`
	ConfirmationDeadline time.Time            `json:"confirmation_deadline"`
	ChangedBy            models.Actor         `json:"changed_by,omitempty"`
}

// SlotsReleasedPayload lists slots that became available again.
type SlotsReleasedPayload struct {
	BookingID string          `json:"booking_id"`
	Slots     []models.SlotID `json:"slots"`
	Waiting   int             `json:"waiting"`
}

// NewBookingPayload snapshots b for publishing.
func NewBookingPayload(b *models.Booking, changedBy models.Actor) BookingEventPayload {
	return BookingEventPayload{
		BookingID:            b.ID,
		Date:                 b.Date,
		Hours:                append([]int(nil), b.Hours...),
		Status:               b.Status,
		CancelReason:         b.CancelReason,
		ConfirmationDeadline: b.ConfirmationDeadline,
		ChangedBy:            changedBy,
	}
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type and returns the first handler error.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var firstErr error
	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
}
