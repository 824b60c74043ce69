package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"slotbook/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestConcurrentBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			// Every attempt overlaps on hour 18.
			results <- db.CreateBooking(ctx, testBooking(fmt.Sprintf("b%d", id), "2023-06-20", 17+id%2, 18))
		}(i)
	}

	wg.Wait()
	close(results)

	successCount := 0
	claimedCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, domain.ErrSlotClaimed):
			claimedCount++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, successCount, "Only one booking should succeed")
	assert.Equal(t, numGoroutines-1, claimedCount)
}
