package database

import (
	"context"
	"testing"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingsCRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := testBooking("b1", "2023-06-20", 17, 18)
	require.NoError(t, db.CreateBooking(ctx, b))

	t.Run("GetBooking", func(t *testing.T) {
		got, err := db.GetBooking(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, b.Contact, got.Contact)
		assert.Equal(t, b.Notes, got.Notes)
		assert.Equal(t, []int{17, 18}, got.Hours)
		assert.Equal(t, models.BookingPending, got.Status)
		assert.True(t, b.CreatedAt.Equal(got.CreatedAt))
		assert.True(t, b.ConfirmationDeadline.Equal(got.ConfirmationDeadline))
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := db.GetBooking(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
	})

	t.Run("OverlapRejected", func(t *testing.T) {
		err := db.CreateBooking(ctx, testBooking("b2", "2023-06-20", 18, 19))
		assert.ErrorIs(t, err, domain.ErrSlotClaimed)

		// The whole insert rolled back.
		_, err = db.GetBooking(ctx, "b2")
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
		_, err = db.ActiveBookingAt(ctx, models.SlotID{Date: "2023-06-20", Hour: 19})
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		err := db.CreateBooking(ctx, testBooking("b1", "2023-06-22", 9))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrSlotClaimed)
	})

	t.Run("ActiveQueries", func(t *testing.T) {
		require.NoError(t, db.CreateBooking(ctx, testBooking("b3", "2023-06-21", 9)))

		active, err := db.ActiveBookingsForDate(ctx, "2023-06-20")
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "b1", active[0].ID)

		at, err := db.ActiveBookingAt(ctx, models.SlotID{Date: "2023-06-20", Hour: 18})
		require.NoError(t, err)
		assert.Equal(t, "b1", at.ID)
	})

	t.Run("Confirm", func(t *testing.T) {
		got, _ := db.GetBooking(ctx, "b1")
		got.Status = models.BookingConfirmed
		got.UpdatedAt = got.UpdatedAt.Add(time.Hour)
		got.Version++
		require.NoError(t, db.UpdateBooking(ctx, got))

		again, err := db.GetBooking(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, models.BookingConfirmed, again.Status)
		assert.Equal(t, int64(2), again.Version)

		active, _ := db.ActiveBookingsForDate(ctx, "2023-06-20")
		assert.Len(t, active, 1)
	})

	t.Run("PendingDueBefore", func(t *testing.T) {
		deadline := testBooking("x", "2023-06-21", 9).ConfirmationDeadline

		due, err := db.PendingDueBefore(ctx, deadline.Add(-time.Nanosecond))
		require.NoError(t, err)
		assert.Empty(t, due)

		due, err = db.PendingDueBefore(ctx, deadline)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "b3", due[0].ID, "confirmed bookings are never due")
	})

	t.Run("CancelReleasesClaims", func(t *testing.T) {
		got, _ := db.GetBooking(ctx, "b1")
		got.Status = models.BookingCancelled
		got.CancelReason = models.CancelByOperator
		got.Version++
		require.NoError(t, db.UpdateBooking(ctx, got))

		again, err := db.GetBooking(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, models.CancelByOperator, again.CancelReason)

		active, err := db.ActiveBookingsForDate(ctx, "2023-06-20")
		require.NoError(t, err)
		assert.Empty(t, active)

		require.NoError(t, db.CreateBooking(ctx, testBooking("b4", "2023-06-20", 18)))
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		err := db.UpdateBooking(ctx, testBooking("missing", "2023-06-20", 9))
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
	})
}

func TestUpdateBookingStaleVersion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateBooking(ctx, testBooking("b1", "2023-06-20", 17)))

	// Two writers load the same version.
	first, err := db.GetBooking(ctx, "b1")
	require.NoError(t, err)
	second, err := db.GetBooking(ctx, "b1")
	require.NoError(t, err)

	first.Status = models.BookingCancelled
	first.CancelReason = models.CancelByCustomer
	first.Version++
	require.NoError(t, db.UpdateBooking(ctx, first))

	require.NoError(t, db.CreateBooking(ctx, testBooking("b2", "2023-06-20", 17)))

	second.Status = models.BookingConfirmed
	second.Version++
	err = db.UpdateBooking(ctx, second)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.NotErrorIs(t, err, domain.ErrBookingNotFound)

	got, err := db.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, got.Status)
	assert.Equal(t, int64(2), got.Version)

	active, err := db.ActiveBookingsForDate(ctx, "2023-06-20")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b2", active[0].ID)

	at, err := db.ActiveBookingAt(ctx, models.SlotID{Date: "2023-06-20", Hour: 17})
	require.NoError(t, err)
	assert.Equal(t, "b2", at.ID)
}

func TestListBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	late := testBooking("b1", "2023-06-21", 9)
	require.NoError(t, db.CreateBooking(ctx, late))
	early := testBooking("b2", "2023-06-20", 9)
	early.CreatedAt = early.CreatedAt.Add(time.Minute)
	require.NoError(t, db.CreateBooking(ctx, early))
	require.NoError(t, db.CreateBooking(ctx, testBooking("b3", "2023-06-20", 10)))

	cancelled, _ := db.GetBooking(ctx, "b3")
	cancelled.Status = models.BookingCancelled
	cancelled.CancelReason = models.CancelExpired
	cancelled.Version++
	require.NoError(t, db.UpdateBooking(ctx, cancelled))

	ids := func(bookings []*models.Booking) []string {
		out := make([]string, 0, len(bookings))
		for _, b := range bookings {
			out = append(out, b.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter domain.BookingFilter
		want   []string
	}{
		{"all", domain.BookingFilter{}, []string{"b3", "b2", "b1"}},
		{"pending", domain.BookingFilter{Status: models.BookingPending}, []string{"b2", "b1"}},
		{"cancelled", domain.BookingFilter{Status: models.BookingCancelled}, []string{"b3"}},
		{"from", domain.BookingFilter{From: "2023-06-21"}, []string{"b1"}},
		{"to", domain.BookingFilter{To: "2023-06-20"}, []string{"b3", "b2"}},
		{"empty range", domain.BookingFilter{From: "2023-06-22", To: "2023-06-30"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.ListBookings(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestHoursRoundTrip(t *testing.T) {
	hours, err := parseHours(formatHours([]int{8, 15, 22}))
	require.NoError(t, err)
	assert.Equal(t, []int{8, 15, 22}, hours)

	_, err = parseHours("8,x")
	assert.Error(t, err)
}
