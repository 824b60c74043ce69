package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"
)

// Fixed width keeps lexical order equal to time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var bookingColumns = []string{
	"b.id",
	"b.contact_name",
	"b.contact_phone",
	"b.contact_email",
	"b.notes",
	"b.date",
	"b.hours",
	"b.status",
	"b.cancel_reason",
	"b.created_at",
	"b.confirmation_deadline",
	"b.updated_at",
	"b.version",
}

var activeStatuses = []string{string(models.BookingPending), string(models.BookingConfirmed)}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func formatHours(hours []int) string {
	parts := make([]string, len(hours))
	for i, h := range hours {
		parts[i] = strconv.Itoa(h)
	}
	return strings.Join(parts, ",")
}

func parseHours(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	hours := make([]int, 0, len(parts))
	for _, p := range parts {
		h, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("malformed hours %q: %w", s, err)
		}
		hours = append(hours, h)
	}
	return hours, nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                            models.Booking
		hours, status, reason        string
		createdAt, deadline, updated string
	)
	err := row.Scan(
		&b.ID,
		&b.Contact.Name,
		&b.Contact.Phone,
		&b.Contact.Email,
		&b.Notes,
		&b.Date,
		&hours,
		&status,
		&reason,
		&createdAt,
		&deadline,
		&updated,
		&b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.Status = models.BookingStatus(status)
	b.CancelReason = models.CancelReason(reason)
	if b.Hours, err = parseHours(hours); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("malformed created_at: %w", err)
	}
	if b.ConfirmationDeadline, err = parseTime(deadline); err != nil {
		return nil, fmt.Errorf("malformed confirmation_deadline: %w", err)
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("malformed updated_at: %w", err)
	}
	return &b, nil
}

func (db *DB) queryBookings(ctx context.Context, q squirrel.SelectBuilder) ([]*models.Booking, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// CreateBooking inserts the booking and claims its slots in one transaction.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query, args, err := builder.Insert("bookings").
		Columns(
			"id", "contact_name", "contact_phone", "contact_email", "notes",
			"date", "hours", "status", "cancel_reason",
			"created_at", "confirmation_deadline", "updated_at", "version",
		).
		Values(
			booking.ID,
			booking.Contact.Name,
			booking.Contact.Phone,
			booking.Contact.Email,
			booking.Notes,
			booking.Date,
			formatHours(booking.Hours),
			string(booking.Status),
			string(booking.CancelReason),
			formatTime(booking.CreatedAt),
			formatTime(booking.ConfirmationDeadline),
			formatTime(booking.UpdatedAt),
			booking.Version,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("booking %s already exists: %w", booking.ID, err)
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}

	if booking.Status.IsActive() && len(booking.Hours) > 0 {
		claims := builder.Insert("slot_claims").Columns("date", "hour", "booking_id")
		for _, slot := range booking.Slots() {
			claims = claims.Values(slot.Date, slot.Hour, booking.ID)
		}
		query, args, err = claims.ToSql()
		if err != nil {
			return fmt.Errorf("build claims query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if isConstraintViolation(err) {
				return domain.ErrSlotClaimed
			}
			return fmt.Errorf("failed to claim slots: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	query, args, err := builder.Select(bookingColumns...).
		From("bookings b").
		Where(squirrel.Eq{"b.id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}

	b, err := scanBooking(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// UpdateBooking writes the lifecycle fields if the stored version is booking.Version-1.
// Leaving the active set releases the slot claims.
func (db *DB) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query, args, err := builder.Update("bookings").
		Set("status", string(booking.Status)).
		Set("cancel_reason", string(booking.CancelReason)).
		Set("updated_at", formatTime(booking.UpdatedAt)).
		Set("version", booking.Version).
		Where(squirrel.Eq{"id": booking.ID, "version": booking.Version - 1}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return db.missedUpdate(ctx, tx, booking.ID)
	}

	if !booking.Status.IsActive() {
		query, args, err = builder.Delete("slot_claims").Where(squirrel.Eq{"booking_id": booking.ID}).ToSql()
		if err != nil {
			return fmt.Errorf("build delete query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to release slots: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// missedUpdate tells a stale version apart from an unknown id.
func (db *DB) missedUpdate(ctx context.Context, tx *sql.Tx, id string) error {
	query, args, err := builder.Select("version").From("bookings").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build select query: %w", err)
	}
	var version int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrBookingNotFound
		}
		return fmt.Errorf("failed to check booking version: %w", err)
	}
	return fmt.Errorf("booking %s at version %d: %w", id, version, domain.ErrConcurrentModification)
}

func (db *DB) ActiveBookingsForDate(ctx context.Context, date string) ([]*models.Booking, error) {
	return db.queryBookings(ctx, builder.Select(bookingColumns...).
		From("bookings b").
		Where(squirrel.Eq{"b.date": date, "b.status": activeStatuses}).
		OrderBy("b.created_at", "b.id"))
}

func (db *DB) ActiveBookingAt(ctx context.Context, slot models.SlotID) (*models.Booking, error) {
	bookings, err := db.queryBookings(ctx, builder.Select(bookingColumns...).
		From("slot_claims c").
		Join("bookings b ON b.id = c.booking_id").
		Where(squirrel.Eq{"c.date": slot.Date, "c.hour": slot.Hour}))
	if err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return nil, domain.ErrBookingNotFound
	}
	return bookings[0], nil
}

func (db *DB) ListBookings(ctx context.Context, filter domain.BookingFilter) ([]*models.Booking, error) {
	q := builder.Select(bookingColumns...).From("bookings b")
	if filter.Status != "" {
		q = q.Where(squirrel.Eq{"b.status": string(filter.Status)})
	}
	if filter.From != "" {
		q = q.Where(squirrel.GtOrEq{"b.date": filter.From})
	}
	if filter.To != "" {
		q = q.Where(squirrel.LtOrEq{"b.date": filter.To})
	}
	return db.queryBookings(ctx, q.OrderBy("b.date", "b.created_at", "b.id"))
}

func (db *DB) PendingDueBefore(ctx context.Context, t time.Time) ([]*models.Booking, error) {
	return db.queryBookings(ctx, builder.Select(bookingColumns...).
		From("bookings b").
		Where(squirrel.Eq{"b.status": string(models.BookingPending)}).
		Where(squirrel.LtOrEq{"b.confirmation_deadline": formatTime(t)}).
		OrderBy("b.confirmation_deadline", "b.id"))
}
