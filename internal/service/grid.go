package service

import (
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"
)

// projectGrid derives the status of every hour of day from the active bookings.
// Started slots and calendar-blocked slots are maintenance whatever holds them.
func projectGrid(day, now time.Time, active []*models.Booking, calendar domain.MaintenanceCalendar) []models.Slot {
	date := day.Format(models.DateLayout)

	occupant := make(map[int]models.BookingStatus, models.SlotsPerDay)
	for _, b := range active {
		if b.Date != date || !b.Status.IsActive() {
			continue
		}
		for _, h := range b.Hours {
			occupant[h] = b.Status
		}
	}

	slots := make([]models.Slot, 0, models.SlotsPerDay)
	for hour := models.FirstHour; hour <= models.LastHour; hour++ {
		start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())

		status := models.SlotAvailable
		switch {
		case !start.After(now):
			status = models.SlotMaintenance
		case calendar != nil && calendar.IsBlocked(date, hour):
			status = models.SlotMaintenance
		default:
			if st, ok := occupant[hour]; ok {
				status = st.SlotStatus()
			}
		}

		slots = append(slots, models.Slot{
			ID:     models.NewSlotID(day, hour),
			Hour:   hour,
			Status: status,
		})
	}

	return slots
}

func slotAt(slots []models.Slot, hour int) models.Slot {
	return slots[hour-models.FirstHour]
}
