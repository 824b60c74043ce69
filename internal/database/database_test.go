package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"slotbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testBooking(id, date string, hours ...int) *models.Booking {
	created := time.Date(2023, 6, 19, 10, 0, 0, 0, time.UTC)
	return &models.Booking{
		ID:                   id,
		Contact:              models.Contact{Name: "Ann", Phone: "+100", Email: "ann@example.com"},
		Notes:                "bring a ball",
		Date:                 date,
		Hours:                hours,
		Status:               models.BookingPending,
		CreatedAt:            created,
		ConfirmationDeadline: created.Add(19 * time.Hour),
		UpdatedAt:            created,
		Version:              1,
	}
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
}

func TestNewDB_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	require.NoError(t, db.CreateBooking(context.Background(), testBooking("b1", "2023-06-20", 17)))
	require.NoError(t, db.Close())

	// Tables already exist; the booking survives.
	db, err = NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.GetBooking(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", got.ID)
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))
}
