package repository

import (
	"context"
	"sync/atomic"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverNotificationStore writes to primary and switches to fallback while primary fails.
type FailoverNotificationStore struct {
	primary   domain.NotificationStore
	fallback  domain.NotificationStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverNotificationStore(primary, fallback domain.NotificationStore, logger *zerolog.Logger) *FailoverNotificationStore {
	return &FailoverNotificationStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverNotificationStore) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary notification store failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(r.now().UnixNano())
}

// usePrimary reports whether the next call should try primary.
func (r *FailoverNotificationStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	// Try to recover after 1 minute
	return r.now().Sub(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverNotificationStore) Append(ctx context.Context, req models.NotificationRequest, expiresAt time.Time) error {
	if r.usePrimary() {
		err := r.primary.Append(ctx, req, expiresAt)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary notification store recovered")
			}
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Append(ctx, req, expiresAt)
}

// Drain always empties fallback too, so requests kept during an outage are not lost.
func (r *FailoverNotificationStore) Drain(ctx context.Context, slot models.SlotID) ([]models.NotificationRequest, error) {
	var out []models.NotificationRequest
	if r.usePrimary() {
		reqs, err := r.primary.Drain(ctx, slot)
		if err == nil {
			r.isDown.Store(false)
		} else {
			r.markDown(err)
		}
		out = append(out, reqs...)
	}

	reqs, err := r.fallback.Drain(ctx, slot)
	if err != nil {
		return out, err
	}
	return append(out, reqs...), nil
}
