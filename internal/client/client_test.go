package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"slotbook/internal/api"
	"slotbook/internal/clock"
	"slotbook/internal/config"
	"slotbook/internal/events"
	"slotbook/internal/models"
	"slotbook/internal/repository"
	"slotbook/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type discardReleases struct{}

func (discardReleases) HandleReleases(context.Context, []models.SlotRelease) {}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := zerolog.Nop()
	clk := clock.NewManual(time.Date(2023, 6, 19, 10, 0, 0, 0, time.UTC))
	registry := service.NewNotificationRegistry(repository.NewMemoryNotificationStore(clk), clk, time.UTC, &logger)
	engine := service.NewAvailabilityEngine(
		repository.NewMemoryBookingStore(),
		registry,
		nil,
		discardReleases{},
		events.NewEventBus(),
		clk,
		service.EngineConfig{Location: time.UTC, MaxBookingDays: 30},
		&logger,
	)

	cfg := config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			APIKeys: []config.APIClientKey{{Key: "ops", Extra: "secret", Permissions: []string{"bookings:operate"}}},
		},
	}
	ts := httptest.NewServer(api.NewHTTPServer(cfg, engine, &logger).Handler())
	t.Cleanup(ts.Close)
	return ts
}

var ann = models.Contact{Name: "Ann", Email: "ann@example.com"}

func TestClientBookingLifecycle(t *testing.T) {
	ts := newServer(t)
	ctx := context.Background()
	customer := New(ts.URL+"/", "", "")
	operator := New(ts.URL, "ops", "secret")

	booking, err := customer.Reserve(ctx, ReserveRequest{Date: "2023-06-20", Hours: []int{17, 18}, Contact: ann})
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, booking.Status)

	_, err = customer.Reserve(ctx, ReserveRequest{Date: "2023-06-20", Hours: []int{18}, Contact: ann})
	require.Error(t, err)
	assert.True(t, IsCode(err, "slot_unavailable"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.Status)
	assert.Equal(t, "2023-06-20-18", apiErr.Slot)

	_, err = customer.Confirm(ctx, booking.ID)
	assert.True(t, IsCode(err, "unauthorized"))

	confirmed, err := operator.Confirm(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, confirmed.Status)

	req, err := customer.Notify(ctx, models.SlotID{Date: "2023-06-20", Hour: 17}, "bob@example.com", "")
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)

	cancelled, err := operator.OperatorCancel(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CancelByOperator, cancelled.CancelReason)

	got, err := customer.Booking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, got.Status)

	// Cancellation already handed the waiting request off.
	drained, err := operator.Drain(ctx, models.SlotID{Date: "2023-06-20", Hour: 17})
	require.NoError(t, err)
	assert.Empty(t, drained.Requests)

	_, err = customer.Booking(ctx, "missing")
	assert.True(t, IsCode(err, "not_found"))

	listed, err := operator.ListBookings(ctx, models.BookingCancelled, "2023-06-20", "2023-06-20")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, booking.ID, listed[0].ID)

	_, err = customer.ListBookings(ctx, "", "", "")
	assert.True(t, IsCode(err, "unauthorized"))
	_, err = operator.ListBookings(ctx, "archived", "", "")
	assert.True(t, IsCode(err, "invalid_range"))
}

func TestClientGridCache(t *testing.T) {
	ts := newServer(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	c := New(ts.URL, "", "")
	c.UseRedisCache(rdb, time.Minute)

	grid, err := c.Grid(ctx, "2023-06-20")
	require.NoError(t, err)
	require.Len(t, grid.Slots, models.SlotsPerDay)
	assert.True(t, mr.Exists(gridCacheKey("2023-06-20")))
	assert.Equal(t, time.Minute, mr.TTL(gridCacheKey("2023-06-20")))

	// A booking made by another client is invisible until the entry expires.
	other := New(ts.URL, "", "")
	_, err = other.Reserve(ctx, ReserveRequest{Date: "2023-06-20", Hours: []int{9}, Contact: ann})
	require.NoError(t, err)

	cached, err := c.Grid(ctx, "2023-06-20")
	require.NoError(t, err)
	assert.Equal(t, models.SlotAvailable, cached.Slots[9-models.FirstHour].Status)

	// Reserving through the caching client evicts the date.
	_, err = c.Reserve(ctx, ReserveRequest{Date: "2023-06-20", Hours: []int{10}, Contact: ann})
	require.NoError(t, err)
	assert.False(t, mr.Exists(gridCacheKey("2023-06-20")))

	fresh, err := c.Grid(ctx, "2023-06-20")
	require.NoError(t, err)
	assert.Equal(t, models.SlotPending, fresh.Slots[9-models.FirstHour].Status)
	assert.Equal(t, models.SlotPending, fresh.Slots[10-models.FirstHour].Status)
}
