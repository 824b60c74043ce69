package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"slotbook/internal/clock"
	"slotbook/internal/domain"
	"slotbook/internal/models"
)

// MemoryBookingStore keeps bookings in process. Used for tests and storage.driver=memory.
type MemoryBookingStore struct {
	mu       sync.RWMutex
	bookings map[string]*models.Booking
	claims   map[models.SlotID]string
}

func NewMemoryBookingStore() *MemoryBookingStore {
	return &MemoryBookingStore{
		bookings: make(map[string]*models.Booking),
		claims:   make(map[models.SlotID]string),
	}
}

func (s *MemoryBookingStore) CreateBooking(ctx context.Context, booking *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, slot := range booking.Slots() {
		if _, taken := s.claims[slot]; taken {
			return domain.ErrSlotClaimed
		}
	}

	s.bookings[booking.ID] = booking.Clone()
	if booking.Status.IsActive() {
		for _, slot := range booking.Slots() {
			s.claims[slot] = booking.ID
		}
	}
	return nil
}

func (s *MemoryBookingStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return b.Clone(), nil
}

func (s *MemoryBookingStore) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.bookings[booking.ID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	if current.Version != booking.Version-1 {
		return fmt.Errorf("booking %s at version %d: %w", booking.ID, current.Version, domain.ErrConcurrentModification)
	}

	current.Status = booking.Status
	current.CancelReason = booking.CancelReason
	current.UpdatedAt = booking.UpdatedAt
	current.Version = booking.Version

	if !current.Status.IsActive() {
		for _, slot := range current.Slots() {
			if s.claims[slot] == current.ID {
				delete(s.claims, slot)
			}
		}
	}
	return nil
}

func (s *MemoryBookingStore) ActiveBookingsForDate(ctx context.Context, date string) ([]*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []*models.Booking
	for slot, id := range s.claims {
		if slot.Date != date {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, s.bookings[id].Clone())
	}
	sortBookings(out)
	return out, nil
}

func (s *MemoryBookingStore) ActiveBookingAt(ctx context.Context, slot models.SlotID) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.claims[slot]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return s.bookings[id].Clone(), nil
}

func (s *MemoryBookingStore) PendingDueBefore(ctx context.Context, t time.Time) ([]*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Booking
	for _, b := range s.bookings {
		if b.Status == models.BookingPending && !b.ConfirmationDeadline.After(t) {
			out = append(out, b.Clone())
		}
	}
	sortBookings(out)
	return out, nil
}

func (s *MemoryBookingStore) ListBookings(ctx context.Context, filter domain.BookingFilter) ([]*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Booking
	for _, b := range s.bookings {
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		if filter.From != "" && b.Date < filter.From {
			continue
		}
		if filter.To != "" && b.Date > filter.To {
			continue
		}
		out = append(out, b.Clone())
	}
	sortBookings(out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *MemoryBookingStore) Ping(ctx context.Context) error {
	return nil
}

func sortBookings(bookings []*models.Booking) {
	sort.Slice(bookings, func(i, j int) bool {
		if !bookings[i].CreatedAt.Equal(bookings[j].CreatedAt) {
			return bookings[i].CreatedAt.Before(bookings[j].CreatedAt)
		}
		return bookings[i].ID < bookings[j].ID
	})
}

// MemoryNotificationStore keeps notify-me requests in process.
type MemoryNotificationStore struct {
	mu       sync.Mutex
	requests map[models.SlotID][]notificationEntry
	clock    clock.Clock
}

type notificationEntry struct {
	req       models.NotificationRequest
	expiresAt time.Time
}

func NewMemoryNotificationStore(clk clock.Clock) *MemoryNotificationStore {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryNotificationStore{
		requests: make(map[models.SlotID][]notificationEntry),
		clock:    clk,
	}
}

func (s *MemoryNotificationStore) Append(ctx context.Context, req models.NotificationRequest, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.SlotID] = append(s.requests[req.SlotID], notificationEntry{req: req, expiresAt: expiresAt})
	return nil
}

// Drain returns unexpired requests in registration order and forgets all of them.
func (s *MemoryNotificationStore) Drain(ctx context.Context, slot models.SlotID) ([]models.NotificationRequest, error) {
	s.mu.Lock()
	entries := s.requests[slot]
	delete(s.requests, slot)
	s.mu.Unlock()

	now := s.clock.Now()
	out := make([]models.NotificationRequest, 0, len(entries))
	for _, e := range entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			continue
		}
		out = append(out, e.req)
	}
	return out, nil
}
