package service

import (
	"time"

	"slotbook/internal/models"
)

// ConfirmationDeadline is min(createdAt+24h, earliestSlotStart-12h).
func ConfirmationDeadline(createdAt, earliestSlotStart time.Time) time.Time {
	byWindow := createdAt.Add(models.ConfirmationWindowHours * time.Hour)
	byLead := earliestSlotStart.Add(-models.ConfirmationLeadHours * time.Hour)
	if byLead.Before(byWindow) {
		return byLead
	}
	return byWindow
}
