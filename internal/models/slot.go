package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SlotStatus is the projected state of one bookable hour.
type SlotStatus string

const (
	SlotAvailable   SlotStatus = "available"
	SlotPending     SlotStatus = "pending"
	SlotConfirmed   SlotStatus = "confirmed"
	SlotMaintenance SlotStatus = "maintenance"
)

// IsOccupied reports whether a booking currently holds the slot.
func (s SlotStatus) IsOccupied() bool {
	return s == SlotPending || s == SlotConfirmed
}

// SlotID identifies one hour on one date. Its text form is "2006-01-02-17".
type SlotID struct {
	Date string
	Hour int
}

// NewSlotID builds a slot id from a calendar date and an hour.
func NewSlotID(date time.Time, hour int) SlotID {
	return SlotID{Date: date.Format(DateLayout), Hour: hour}
}

// ParseSlotID parses the "YYYY-MM-DD-H" form.
func ParseSlotID(s string) (SlotID, error) {
	s = strings.TrimSpace(s)
	idx := strings.LastIndex(s, "-")
	if idx <= 0 || idx == len(s)-1 {
		return SlotID{}, fmt.Errorf("malformed slot id %q", s)
	}

	date, rawHour := s[:idx], s[idx+1:]
	if _, err := time.Parse(DateLayout, date); err != nil {
		return SlotID{}, fmt.Errorf("malformed slot date %q: %w", date, err)
	}
	hour, err := strconv.Atoi(rawHour)
	if err != nil {
		return SlotID{}, fmt.Errorf("malformed slot hour %q: %w", rawHour, err)
	}

	return SlotID{Date: date, Hour: hour}, nil
}

func (id SlotID) String() string {
	return fmt.Sprintf("%s-%d", id.Date, id.Hour)
}

func (id SlotID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *SlotID) UnmarshalText(text []byte) error {
	parsed, err := ParseSlotID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Start returns the instant the slot begins in loc.
func (id SlotID) Start(loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, id.Date, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), id.Hour, 0, 0, 0, loc), nil
}

// HourInRange reports whether hour belongs to the daily grid.
func HourInRange(hour int) bool {
	return hour >= FirstHour && hour <= LastHour
}

// Slot is one cell of a day grid.
type Slot struct {
	ID     SlotID     `json:"id"`
	Hour   int        `json:"hour"`
	Status SlotStatus `json:"status"`
}
