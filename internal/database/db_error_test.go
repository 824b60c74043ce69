package database

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"slotbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "closed.db"), &logger)
	assert.NoError(t, err)
	db.Close() // Close the DB to trigger errors

	ctx := context.Background()

	t.Run("CreateBooking_Error", func(t *testing.T) {
		assert.Error(t, db.CreateBooking(ctx, testBooking("b1", "2023-06-20", 9)))
	})

	t.Run("GetBooking_Error", func(t *testing.T) {
		_, err := db.GetBooking(ctx, "b1")
		assert.Error(t, err)
	})

	t.Run("UpdateBooking_Error", func(t *testing.T) {
		assert.Error(t, db.UpdateBooking(ctx, &models.Booking{ID: "b1"}))
	})

	t.Run("ActiveBookingsForDate_Error", func(t *testing.T) {
		_, err := db.ActiveBookingsForDate(ctx, "2023-06-20")
		assert.Error(t, err)
	})

	t.Run("PendingDueBefore_Error", func(t *testing.T) {
		_, err := db.PendingDueBefore(ctx, time.Now())
		assert.Error(t, err)
	})

	t.Run("Ping_Error", func(t *testing.T) {
		assert.Error(t, db.Ping(ctx))
	})
}
