package mq

import (
	"context"
	"time"

	"slotbook/internal/events"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

// JSONPublisher is satisfied by *Publisher.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// SlotNotifier publishes freed-slot notices for the mailer to pick up.
type SlotNotifier struct {
	pub        JSONPublisher
	routingKey string
	timeout    time.Duration
}

func NewSlotNotifier(pub JSONPublisher, routingKey string, timeout time.Duration) *SlotNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SlotNotifier{pub: pub, routingKey: routingKey, timeout: timeout}
}

func (n *SlotNotifier) Notify(ctx context.Context, notice models.FreedSlotNotice) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return n.pub.PublishJSON(ctx, n.routingKey, notice)
}

// ForwardEvents mirrors booking lifecycle events to the exchange under "booking.<type>".
func ForwardEvents(bus *events.EventBus, pub JSONPublisher, timeout time.Duration, logger *zerolog.Logger) {
	types := []string{
		events.EventBookingReserved,
		events.EventBookingConfirmed,
		events.EventBookingCancelled,
		events.EventBookingExpired,
		events.EventSlotsReleased,
	}
	for _, eventType := range types {
		key := "booking." + eventType
		bus.Subscribe(eventType, func(event *events.Event) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := pub.PublishJSON(ctx, key, rawJSON(event.Payload)); err != nil {
				logger.Warn().Err(err).Str("routing_key", key).Msg("forward event failed")
				return err
			}
			return nil
		})
	}
}

// rawJSON keeps an already encoded payload from being encoded twice.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}
