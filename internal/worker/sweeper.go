package worker

import (
	"context"
	"time"

	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

// Expirer is the part of the engine the sweeper drives.
type Expirer interface {
	DueForExpiry(ctx context.Context) ([]*models.Booking, error)
	ExpirePastDeadline(ctx context.Context, id string) (*models.Booking, error)
}

// Sweeper cancels pending bookings whose confirmation deadline has passed.
type Sweeper struct {
	engine   Expirer
	interval time.Duration
	logger   *zerolog.Logger
}

func NewSweeper(engine Expirer, interval time.Duration, logger *zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "sweeper").Logger()
	return &Sweeper{engine: engine, interval: interval, logger: &l}
}

// Start sweeps once immediately, then on every tick until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("sweeper started")
	defer s.logger.Info().Msg("sweeper stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil {
			s.logger.Error().Err(err).Msg("sweep failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce expires every due booking and returns how many were cancelled.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	due, err := s.engine.DueForExpiry(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, b := range due {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		got, err := s.engine.ExpirePastDeadline(ctx, b.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("expire booking failed")
			continue
		}
		if got.Status == models.BookingCancelled && got.CancelReason == models.CancelExpired {
			expired++
		}
	}

	if expired > 0 {
		s.logger.Info().Int("expired", expired).Msg("expired pending bookings")
	}
	return expired, nil
}
