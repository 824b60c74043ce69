package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"slotbook/internal/clock"
	"slotbook/internal/domain"
	"slotbook/internal/events"
	"slotbook/internal/metrics"
	"slotbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EngineConfig holds the booking rules that vary per deployment.
type EngineConfig struct {
	Location       *time.Location
	MaxBookingDays int
}

// ReserveRequest is a customer's ask for one or more hours on one date.
type ReserveRequest struct {
	Date    string         `json:"date"`
	Hours   []int          `json:"hours"`
	Contact models.Contact `json:"contact"`
	Notes   string         `json:"notes"`
}

// AvailabilityEngine owns the slot to booking mapping and every lifecycle move.
type AvailabilityEngine struct {
	store          domain.BookingStore
	registry       *NotificationRegistry
	calendar       domain.MaintenanceCalendar
	releases       domain.ReleaseHandler
	eventBus       domain.EventPublisher
	clock          clock.Clock
	loc            *time.Location
	maxBookingDays int

	// Lock order: record before date.
	dateLocks   keyedMutex
	recordLocks keyedMutex

	logger *zerolog.Logger
}

func NewAvailabilityEngine(
	store domain.BookingStore,
	registry *NotificationRegistry,
	calendar domain.MaintenanceCalendar,
	releases domain.ReleaseHandler,
	eventBus domain.EventPublisher,
	clk clock.Clock,
	cfg EngineConfig,
	logger *zerolog.Logger,
) *AvailabilityEngine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxBookingDays <= 0 {
		cfg.MaxBookingDays = models.DefaultMaxBookingDays
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "engine").Logger()

	return &AvailabilityEngine{
		store:          store,
		registry:       registry,
		calendar:       calendar,
		releases:       releases,
		eventBus:       eventBus,
		clock:          clk,
		loc:            cfg.Location,
		maxBookingDays: cfg.MaxBookingDays,
		logger:         &l,
	}
}

// ComputeGrid projects the 15 hourly slots of date as of now.
func (e *AvailabilityEngine) ComputeGrid(ctx context.Context, date string) (*models.Grid, error) {
	day, err := e.parseDate(date)
	if err != nil {
		return nil, err
	}

	slots, err := e.project(ctx, day)
	if err != nil {
		return nil, err
	}

	return &models.Grid{Date: date, Slots: slots}, nil
}

// Reserve claims every requested hour or none of them.
func (e *AvailabilityEngine) Reserve(ctx context.Context, req ReserveRequest) (*models.Booking, error) {
	day, err := e.parseDate(req.Date)
	if err != nil {
		metrics.IncReservation("invalid")
		return nil, err
	}
	hours, err := normalizeHours(req.Hours)
	if err != nil {
		metrics.IncReservation("invalid")
		return nil, err
	}
	contact, err := normalizeContact(req.Contact)
	if err != nil {
		metrics.IncReservation("invalid")
		return nil, err
	}
	if err := e.checkHorizon(day, e.clock.Now()); err != nil {
		metrics.IncReservation("invalid")
		return nil, err
	}

	booking, err := e.claim(ctx, day, hours, contact, normalizeNotes(req.Notes))
	if err != nil {
		return nil, err
	}

	metrics.IncReservation("ok")
	e.publishEvent(events.EventBookingReserved, booking, models.ActorCustomer)
	e.logger.Info().
		Str("booking_id", booking.ID).
		Str("date", booking.Date).
		Ints("hours", booking.Hours).
		Time("deadline", booking.ConfirmationDeadline).
		Msg("booking reserved")

	return booking.Clone(), nil
}

// claim re-validates and persists under the date lock.
func (e *AvailabilityEngine) claim(ctx context.Context, day time.Time, hours []int, contact models.Contact, notes string) (*models.Booking, error) {
	date := day.Format(models.DateLayout)
	unlock := e.dateLocks.Lock(date)
	defer unlock()

	// Re-validate against the current grid; the caller's render may be stale.
	slots, err := e.project(ctx, day)
	if err != nil {
		metrics.IncReservation("error")
		return nil, err
	}
	if conflict := firstConflict(slots, hours); conflict != nil {
		metrics.IncReservation("conflict")
		e.logger.Warn().
			Str("date", date).
			Ints("hours", hours).
			Str("slot", conflict.Slot.String()).
			Str("slot_status", string(conflict.Status)).
			Msg("reservation rejected")
		return nil, conflict
	}

	now := e.clock.Now()
	earliest := time.Date(day.Year(), day.Month(), day.Day(), hours[0], 0, 0, 0, e.loc)
	booking := &models.Booking{
		ID:                   uuid.NewString(),
		Contact:              contact,
		Notes:                notes,
		Date:                 date,
		Hours:                hours,
		Status:               models.BookingPending,
		CreatedAt:            now,
		ConfirmationDeadline: ConfirmationDeadline(now, earliest),
		UpdatedAt:            now,
		Version:              1,
	}

	if err := e.store.CreateBooking(ctx, booking); err != nil {
		if errors.Is(err, domain.ErrSlotClaimed) {
			metrics.IncReservation("conflict")
			return nil, e.claimConflict(ctx, day, hours)
		}
		metrics.IncReservation("error")
		e.logger.Error().Err(err).Str("date", date).Ints("hours", hours).Msg("create booking failed")
		return nil, fmt.Errorf("create booking: %w", err)
	}
	return booking, nil
}

// GetBooking returns the current state of one booking.
func (e *AvailabilityEngine) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return e.load(ctx, id)
}

// Confirm moves a pending booking to confirmed while its deadline has not passed.
func (e *AvailabilityEngine) Confirm(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := e.confirm(ctx, id)
	if err != nil {
		return nil, err
	}

	metrics.IncTransition(string(models.BookingConfirmed), string(models.ActorOperator))
	e.publishEvent(events.EventBookingConfirmed, booking, models.ActorOperator)
	e.logger.Info().
		Str("booking_id", id).
		Str("date", booking.Date).
		Ints("hours", booking.Hours).
		Msg("booking confirmed")

	return booking, nil
}

func (e *AvailabilityEngine) confirm(ctx context.Context, id string) (*models.Booking, error) {
	unlock := e.recordLocks.Lock(id)
	defer unlock()

	booking, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !booking.Status.CanTransitionTo(models.BookingConfirmed) {
		return nil, &TransitionError{BookingID: id, From: booking.Status, To: models.BookingConfirmed}
	}

	now := e.clock.Now()
	if !now.Before(booking.ConfirmationDeadline) {
		e.logger.Warn().
			Str("booking_id", id).
			Time("deadline", booking.ConfirmationDeadline).
			Msg("confirm after deadline")
		return nil, fmt.Errorf("booking %s: %w at %s", id, ErrDeadlinePassed,
			booking.ConfirmationDeadline.Format(time.RFC3339))
	}

	booking.Status = models.BookingConfirmed
	booking.UpdatedAt = now
	booking.Version++
	if err := e.store.UpdateBooking(ctx, booking); err != nil {
		return nil, e.updateError(booking.ID, err, "confirm booking failed")
	}
	return booking.Clone(), nil
}

// Cancel frees the booking's slots on behalf of a customer or an operator.
func (e *AvailabilityEngine) Cancel(ctx context.Context, id string, actor models.Actor) (*models.Booking, error) {
	var reason models.CancelReason
	switch actor {
	case models.ActorCustomer:
		reason = models.CancelByCustomer
	case models.ActorOperator:
		reason = models.CancelByOperator
	default:
		return nil, fmt.Errorf("%w: actor %q cannot cancel", ErrInvalidTransition, actor)
	}

	out, err := e.cancel(ctx, id, actor, reason)
	if err != nil {
		return nil, err
	}
	e.announceRelease(ctx, out, actor, events.EventBookingCancelled)
	return out.booking, nil
}

func (e *AvailabilityEngine) cancel(ctx context.Context, id string, actor models.Actor, reason models.CancelReason) (*releaseOutcome, error) {
	unlock := e.recordLocks.Lock(id)
	defer unlock()

	booking, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !booking.Status.CanTransitionTo(models.BookingCancelled) {
		return nil, &TransitionError{BookingID: id, From: booking.Status, To: models.BookingCancelled}
	}

	if booking.Status == models.BookingConfirmed {
		if actor != models.ActorOperator {
			return nil, &TransitionError{
				BookingID: id,
				From:      booking.Status,
				To:        models.BookingCancelled,
				Reason:    "only an operator can cancel a confirmed booking",
			}
		}
		if e.started(booking) {
			return nil, &TransitionError{
				BookingID: id,
				From:      booking.Status,
				To:        models.BookingCancelled,
				Reason:    "booking already completed",
			}
		}
	}

	return e.release(ctx, booking, reason)
}

// ExpirePastDeadline cancels a pending booking whose deadline has been reached.
// Any other booking is returned unchanged.
func (e *AvailabilityEngine) ExpirePastDeadline(ctx context.Context, id string) (*models.Booking, error) {
	booking, out, err := e.expire(ctx, id)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return booking, nil
	}
	e.announceRelease(ctx, out, models.ActorSystem, events.EventBookingExpired)
	return out.booking, nil
}

// expire returns a nil outcome when the booking is left as it was.
func (e *AvailabilityEngine) expire(ctx context.Context, id string) (*models.Booking, *releaseOutcome, error) {
	unlock := e.recordLocks.Lock(id)
	defer unlock()

	booking, err := e.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if booking.Status != models.BookingPending || e.clock.Now().Before(booking.ConfirmationDeadline) {
		return booking, nil, nil
	}

	out, err := e.release(ctx, booking, models.CancelExpired)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// DueForExpiry lists pending bookings whose deadline is at or before now.
func (e *AvailabilityEngine) DueForExpiry(ctx context.Context) ([]*models.Booking, error) {
	due, err := e.store.PendingDueBefore(ctx, e.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("list due bookings: %w", err)
	}
	return due, nil
}

// ListBookings returns bookings by status and date range for operators.
func (e *AvailabilityEngine) ListBookings(ctx context.Context, filter domain.BookingFilter) ([]*models.Booking, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRange, filter.Status)
	}
	var from, to time.Time
	var err error
	if filter.From != "" {
		if from, err = e.parseDate(filter.From); err != nil {
			return nil, err
		}
	}
	if filter.To != "" {
		if to, err = e.parseDate(filter.To); err != nil {
			return nil, err
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, fmt.Errorf("%w: %s is before %s", ErrInvalidRange, filter.To, filter.From)
	}

	bookings, err := e.store.ListBookings(ctx, filter)
	if err != nil {
		e.logger.Error().Err(err).Interface("filter", filter).Msg("list bookings failed")
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

// RegisterNotify records interest in an occupied slot.
func (e *AvailabilityEngine) RegisterNotify(ctx context.Context, slot models.SlotID, email, phone string) (*models.NotificationRequest, error) {
	if !models.HourInRange(slot.Hour) {
		return nil, fmt.Errorf("%w: hour %d outside %d..%d", ErrInvalidRange, slot.Hour, models.FirstHour, models.LastHour)
	}
	day, err := e.parseDate(slot.Date)
	if err != nil {
		return nil, err
	}

	slot = models.NewSlotID(day, slot.Hour)

	// A release drains under the same lock, so a request is either drained or
	// refused.
	unlock := e.dateLocks.Lock(slot.Date)
	defer unlock()

	status, err := e.slotStatus(ctx, day, slot.Hour)
	if err != nil {
		return nil, err
	}
	if !status.IsOccupied() {
		return nil, fmt.Errorf("%w: %s is %s", ErrSlotNotOccupied, slot, status)
	}

	return e.registry.Register(ctx, slot, email, phone)
}

// DrainNotify returns and forgets every request registered for slot.
func (e *AvailabilityEngine) DrainNotify(ctx context.Context, slot models.SlotID) ([]models.NotificationRequest, error) {
	if !models.HourInRange(slot.Hour) {
		return nil, fmt.Errorf("%w: hour %d outside %d..%d", ErrInvalidRange, slot.Hour, models.FirstHour, models.LastHour)
	}
	if _, err := e.parseDate(slot.Date); err != nil {
		return nil, err
	}
	return e.registry.Drain(ctx, slot)
}

// Ping checks the booking store.
func (e *AvailabilityEngine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// releaseOutcome is what a cancellation freed, announced once the locks are gone.
type releaseOutcome struct {
	booking  *models.Booking
	from     models.BookingStatus
	releases []models.SlotRelease
	waiting  int
}

// release cancels booking and drains the requests of its freed slots. Caller holds the record lock.
func (e *AvailabilityEngine) release(ctx context.Context, booking *models.Booking, reason models.CancelReason) (*releaseOutcome, error) {
	from := booking.Status
	booking.Status = models.BookingCancelled
	booking.CancelReason = reason
	booking.UpdatedAt = e.clock.Now()
	booking.Version++

	unlockDate := e.dateLocks.Lock(booking.Date)
	defer unlockDate()

	if err := e.store.UpdateBooking(ctx, booking); err != nil {
		return nil, e.updateError(booking.ID, err, "cancel booking failed")
	}

	out := &releaseOutcome{booking: booking.Clone(), from: from}
	for _, slot := range booking.Slots() {
		var reqs []models.NotificationRequest
		if e.registry != nil {
			var err error
			reqs, err = e.registry.Drain(ctx, slot)
			if err != nil {
				e.logger.Error().Err(err).Str("slot", slot.String()).Int("drained", len(reqs)).Msg("drain notifications failed")
			}
		}
		out.waiting += len(reqs)
		out.releases = append(out.releases, models.SlotRelease{Slot: slot, Requests: reqs})
	}
	return out, nil
}

// announceRelease hands freed slots off and publishes the change.
func (e *AvailabilityEngine) announceRelease(ctx context.Context, out *releaseOutcome, actor models.Actor, eventType string) {
	booking := out.booking
	if e.releases != nil {
		e.releases.HandleReleases(ctx, out.releases)
	}

	metrics.IncTransition(string(models.BookingCancelled), string(booking.CancelReason))
	e.publishEvent(eventType, booking, actor)
	if e.eventBus != nil {
		payload := events.SlotsReleasedPayload{BookingID: booking.ID, Slots: booking.Slots(), Waiting: out.waiting}
		if err := e.eventBus.PublishJSON(events.EventSlotsReleased, payload); err != nil {
			e.logger.Error().Err(err).Str("event_type", events.EventSlotsReleased).Msg("publish event error")
		}
	}

	e.logger.Info().
		Str("booking_id", booking.ID).
		Str("date", booking.Date).
		Ints("hours", booking.Hours).
		Str("from", string(out.from)).
		Str("reason", string(booking.CancelReason)).
		Int("waiting", out.waiting).
		Msg("booking cancelled")
}

// updateError maps a failed store write. A version mismatch means another
// writer moved the booking first.
func (e *AvailabilityEngine) updateError(id string, err error, msg string) error {
	if errors.Is(err, domain.ErrConcurrentModification) {
		e.logger.Warn().Err(err).Str("booking_id", id).Msg(msg)
		return fmt.Errorf("booking %s changed concurrently: %w", id, ErrInvalidTransition)
	}
	e.logger.Error().Err(err).Str("booking_id", id).Msg(msg)
	return fmt.Errorf("update booking: %w", err)
}

func (e *AvailabilityEngine) load(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := e.store.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrBookingNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		e.logger.Error().Err(err).Str("booking_id", id).Msg("load booking failed")
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return booking, nil
}

func (e *AvailabilityEngine) project(ctx context.Context, day time.Time) ([]models.Slot, error) {
	date := day.Format(models.DateLayout)
	active, err := e.store.ActiveBookingsForDate(ctx, date)
	if err != nil {
		e.logger.Error().Err(err).Str("date", date).Msg("list bookings failed")
		return nil, fmt.Errorf("list bookings for %s: %w", date, err)
	}
	return projectGrid(day, e.clock.Now(), active, e.calendar), nil
}

// claimConflict names the slot another writer claimed between validation and insert.
func (e *AvailabilityEngine) claimConflict(ctx context.Context, day time.Time, hours []int) error {
	if slots, err := e.project(ctx, day); err == nil {
		if conflict := firstConflict(slots, hours); conflict != nil {
			return conflict
		}
	}
	return &SlotUnavailableError{
		Slot:   models.NewSlotID(day, hours[0]),
		Status: models.SlotPending,
	}
}

// slotStatus projects one slot the way projectGrid does, reading only its occupant.
func (e *AvailabilityEngine) slotStatus(ctx context.Context, day time.Time, hour int) (models.SlotStatus, error) {
	slot := models.NewSlotID(day, hour)
	start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, e.loc)
	if !start.After(e.clock.Now()) || (e.calendar != nil && e.calendar.IsBlocked(slot.Date, hour)) {
		return models.SlotMaintenance, nil
	}

	occupant, err := e.store.ActiveBookingAt(ctx, slot)
	if errors.Is(err, domain.ErrBookingNotFound) {
		return models.SlotAvailable, nil
	}
	if err != nil {
		e.logger.Error().Err(err).Str("slot", slot.String()).Msg("look up occupant failed")
		return "", fmt.Errorf("look up occupant of %s: %w", slot, err)
	}
	return occupant.Status.SlotStatus(), nil
}

func (e *AvailabilityEngine) started(b *models.Booking) bool {
	start, err := b.EarliestSlot().Start(e.loc)
	if err != nil {
		return false
	}
	return !e.clock.Now().Before(start)
}

func (e *AvailabilityEngine) parseDate(date string) (time.Time, error) {
	day, err := time.ParseInLocation(models.DateLayout, date, e.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: malformed date %q", ErrInvalidRange, date)
	}
	return day, nil
}

func (e *AvailabilityEngine) checkHorizon(day, now time.Time) error {
	local := now.In(e.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)
	if day.Before(today) {
		return fmt.Errorf("%w: date %s is in the past", ErrInvalidRange, day.Format(models.DateLayout))
	}
	if day.After(today.AddDate(0, 0, e.maxBookingDays)) {
		return fmt.Errorf("%w: date %s is more than %d days ahead", ErrInvalidRange, day.Format(models.DateLayout), e.maxBookingDays)
	}
	return nil
}

func (e *AvailabilityEngine) publishEvent(eventType string, booking *models.Booking, changedBy models.Actor) {
	if e.eventBus == nil {
		return
	}
	if err := e.eventBus.PublishJSON(eventType, events.NewBookingPayload(booking, changedBy)); err != nil {
		e.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", booking.ID).Msg("publish event error")
	}
}

func firstConflict(slots []models.Slot, hours []int) *SlotUnavailableError {
	for _, h := range hours {
		if slot := slotAt(slots, h); slot.Status != models.SlotAvailable {
			return &SlotUnavailableError{Slot: slot.ID, Status: slot.Status}
		}
	}
	return nil
}

// normalizeHours sorts and dedupes hours and checks each against the grid.
func normalizeHours(hours []int) ([]int, error) {
	if len(hours) == 0 {
		return nil, fmt.Errorf("%w: no hours requested", ErrInvalidRange)
	}
	seen := make(map[int]struct{}, len(hours))
	out := make([]int, 0, len(hours))
	for _, h := range hours {
		if !models.HourInRange(h) {
			return nil, fmt.Errorf("%w: hour %d outside %d..%d", ErrInvalidRange, h, models.FirstHour, models.LastHour)
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Ints(out)
	return out, nil
}

func normalizeContact(c models.Contact) (models.Contact, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Email = strings.TrimSpace(c.Email)

	if c.Name == "" {
		return c, fmt.Errorf("%w: name is required", ErrInvalidContact)
	}
	if c.Phone == "" && c.Email == "" {
		return c, fmt.Errorf("%w: phone or email is required", ErrInvalidContact)
	}
	if c.Email != "" && !validEmail(c.Email) {
		return c, fmt.Errorf("%w: malformed email %q", ErrInvalidContact, c.Email)
	}
	return c, nil
}

func normalizeNotes(notes string) string {
	notes = strings.TrimSpace(notes)
	if utf8.RuneCountInString(notes) <= models.MaxNotesLength {
		return notes
	}
	return string([]rune(notes)[:models.MaxNotesLength])
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
