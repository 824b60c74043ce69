package mq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"slotbook/internal/events"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	key      string
	body     []byte
	deadline bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) PublishJSON(ctx context.Context, key string, v any) error {
	if f.err != nil {
		return f.err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, hasDeadline := ctx.Deadline()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{key: key, body: b, deadline: hasDeadline})
	return nil
}

func TestSlotNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := NewSlotNotifier(pub, "slot.released", time.Second)

	notice := models.FreedSlotNotice{
		RequestID: "n1",
		Slot:      models.SlotID{Date: "2023-06-20", Hour: 17},
		Email:     "a@example.com",
	}
	require.NoError(t, n.Notify(context.Background(), notice))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "slot.released", pub.msgs[0].key)
	assert.True(t, pub.msgs[0].deadline)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(pub.msgs[0].body, &decoded))
	assert.Equal(t, "2023-06-20-17", decoded["slot"])
	assert.Equal(t, "a@example.com", decoded["email"])
}

func TestSlotNotifierError(t *testing.T) {
	n := NewSlotNotifier(&fakePublisher{err: errors.New("closed")}, "slot.released", 0)
	assert.Error(t, n.Notify(context.Background(), models.FreedSlotNotice{}))
}

func TestForwardEvents(t *testing.T) {
	bus := events.NewEventBus()
	pub := &fakePublisher{}
	logger := zerolog.Nop()
	ForwardEvents(bus, pub, time.Second, &logger)

	b := &models.Booking{ID: "b1", Date: "2023-06-20", Hours: []int{17}, Status: models.BookingConfirmed}
	require.NoError(t, bus.PublishJSON(events.EventBookingConfirmed, events.NewBookingPayload(b, models.ActorOperator)))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "booking.booking_confirmed", pub.msgs[0].key)

	var payload events.BookingEventPayload
	require.NoError(t, json.Unmarshal(pub.msgs[0].body, &payload))
	assert.Equal(t, "b1", payload.BookingID)
	assert.Equal(t, models.BookingConfirmed, payload.Status)
}

func TestForwardEventsError(t *testing.T) {
	bus := events.NewEventBus()
	logger := zerolog.Nop()
	ForwardEvents(bus, &fakePublisher{err: errors.New("closed")}, time.Second, &logger)

	err := bus.PublishJSON(events.EventBookingExpired, map[string]string{"booking_id": "b1"})
	assert.Error(t, err)
}
