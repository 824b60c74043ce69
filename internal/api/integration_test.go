package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"slotbook/internal/clock"
	"slotbook/internal/database"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration-style test: the HTTP API over the SQLite store keeps slots exclusive.
func TestSQLiteBackedReservations(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "integration.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := clock.NewManual(time.Date(2023, 6, 19, 10, 0, 0, 0, time.UTC))
	srv := NewHTTPServer(testAPIConfig(), newEngine(db, clk), &logger)
	ts := &testServer{Server: httptest.NewServer(srv.Handler()), clock: clk}
	t.Cleanup(ts.Close)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses []int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every request overlaps hour 11.
			raw, _ := json.Marshal(reserveBody(10+i%2, 11))
			resp, err := ts.Client().Post(ts.URL+"/api/v1/bookings", "application/json", bytes.NewReader(raw))
			code := 0
			if err == nil {
				code = resp.StatusCode
				resp.Body.Close()
			}
			mu.Lock()
			statuses = append(statuses, code)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	created := 0
	for _, code := range statuses {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
		default:
			t.Fatalf("unexpected status %d", code)
		}
	}
	assert.Equal(t, 1, created)

	resp, raw := ts.do(t, http.MethodGet, "/api/v1/slots?date=2023-06-20", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	grid := decode[models.Grid](t, raw)
	assert.Equal(t, models.SlotPending, grid.Slots[11-models.FirstHour].Status)

	resp, _ = ts.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
