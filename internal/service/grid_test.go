package service

import (
	"testing"
	"time"

	"slotbook/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestConfirmationDeadline(t *testing.T) {
	tests := []struct {
		name      string
		createdAt time.Time
		slotStart time.Time
		want      time.Time
	}{
		{
			name:      "lead time is tighter",
			createdAt: at(2023, 6, 19, 10, 0),
			slotStart: at(2023, 6, 20, 17, 0),
			want:      at(2023, 6, 20, 5, 0),
		},
		{
			name:      "window is tighter",
			createdAt: at(2023, 6, 19, 10, 0),
			slotStart: at(2023, 6, 25, 10, 0),
			want:      at(2023, 6, 20, 10, 0),
		},
		{
			name:      "both equal",
			createdAt: at(2023, 6, 19, 10, 0),
			slotStart: at(2023, 6, 20, 22, 0),
			want:      at(2023, 6, 20, 10, 0),
		},
		{
			name:      "already past at creation",
			createdAt: at(2023, 6, 20, 12, 30),
			slotStart: at(2023, 6, 20, 13, 0),
			want:      at(2023, 6, 20, 1, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConfirmationDeadline(tt.createdAt, tt.slotStart))
		})
	}
}

func TestProjectGrid(t *testing.T) {
	day := at(2023, 6, 20, 0, 0)
	now := at(2023, 6, 20, 9, 15)
	active := []*models.Booking{
		{ID: "p", Date: "2023-06-20", Hours: []int{10, 11}, Status: models.BookingPending},
		{ID: "c", Date: "2023-06-20", Hours: []int{15}, Status: models.BookingConfirmed},
		{ID: "x", Date: "2023-06-20", Hours: []int{16}, Status: models.BookingCancelled},
		{ID: "o", Date: "2023-06-21", Hours: []int{17}, Status: models.BookingPending},
		{ID: "s", Date: "2023-06-20", Hours: []int{9}, Status: models.BookingConfirmed},
	}
	calendar := NewStaticCalendar(map[string][]int{"2023-06-20": {20, 11}})

	slots := projectGrid(day, now, active, calendar)
	assert.Len(t, slots, models.SlotsPerDay)

	want := map[int]models.SlotStatus{
		8:  models.SlotMaintenance,
		9:  models.SlotMaintenance,
		10: models.SlotPending,
		11: models.SlotMaintenance,
		12: models.SlotAvailable,
		15: models.SlotConfirmed,
		16: models.SlotAvailable,
		17: models.SlotAvailable,
		20: models.SlotMaintenance,
		22: models.SlotAvailable,
	}
	for hour, status := range want {
		assert.Equal(t, status, slotAt(slots, hour).Status, "hour %d", hour)
	}
}

func TestStaticCalendar(t *testing.T) {
	cal := NewStaticCalendar(map[string][]int{
		"2023-06-20": {9},
		"2023-06-21": nil,
	})

	assert.True(t, cal.IsBlocked("2023-06-20", 9))
	assert.False(t, cal.IsBlocked("2023-06-20", 10))
	assert.True(t, cal.IsBlocked("2023-06-21", 22))
	assert.False(t, cal.IsBlocked("2023-06-22", 9))

	var none *StaticCalendar
	assert.False(t, none.IsBlocked("2023-06-20", 9))
}
