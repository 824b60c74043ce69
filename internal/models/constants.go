package models

const (
	// FirstHour and LastHour bound the daily grid, both inclusive.
	FirstHour = 8
	LastHour  = 22

	// SlotsPerDay is the size of a full day grid.
	SlotsPerDay = LastHour - FirstHour + 1

	// DateLayout is the wire and storage format of a booking date.
	DateLayout = "2006-01-02"
)

const (
	// ConfirmationWindowHours is how long an operator has to act on a new booking.
	ConfirmationWindowHours = 24

	// ConfirmationLeadHours is how long before the first slot a booking must be confirmed.
	ConfirmationLeadHours = 12

	// DefaultMaxBookingDays limits how far ahead a date can be reserved.
	DefaultMaxBookingDays = 365

	// MaxNotesLength caps customer notes, in runes.
	MaxNotesLength = 500

	// DefaultReleaseQueueSize buffers freed-slot hand-offs to the dispatcher.
	DefaultReleaseQueueSize = 1000

	// RateLimitRPS and RateLimitBurst are the public API defaults per client.
	RateLimitRPS   = 5
	RateLimitBurst = 10
)
