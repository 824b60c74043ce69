package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"slotbook/internal/metrics"
	"slotbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const deadLetterKeyDefault = "notify:deadletter"

// Notifier delivers one freed-slot notice to a waiting customer.
type Notifier interface {
	Notify(ctx context.Context, notice models.FreedSlotNotice) error
}

// LogNotifier only logs notices. Used when no broker is configured.
type LogNotifier struct {
	Logger *zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, notice models.FreedSlotNotice) error {
	if n.Logger == nil {
		return nil
	}
	n.Logger.Info().
		Str("slot", notice.Slot.String()).
		Str("request_id", notice.RequestID).
		Str("email", notice.Email).
		Msg("slot freed")
	return nil
}

// Dispatcher queues freed-slot notices and delivers them in the background.
type Dispatcher struct {
	notifier      Notifier
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.FreedSlotNotice
	deadLetterKey string
	logger        *zerolog.Logger
}

// NewDispatcher builds a dispatcher; redisClient may be nil, then failed notices are only logged.
func NewDispatcher(notifier Notifier, redisClient *redis.Client, retry RetryPolicy, queueSize int, logger *zerolog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = models.DefaultReleaseQueueSize
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "dispatcher").Logger()

	return &Dispatcher{
		notifier:      notifier,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		queue:         make(chan models.FreedSlotNotice, queueSize),
		deadLetterKey: deadLetterKeyDefault,
		logger:        &l,
	}
}

// HandleReleases enqueues one notice per drained request. It never blocks; a full queue drops.
func (d *Dispatcher) HandleReleases(_ context.Context, releases []models.SlotRelease) {
	now := time.Now()
	for _, rel := range releases {
		for _, req := range rel.Requests {
			notice := models.FreedSlotNotice{
				RequestID:  req.ID,
				Slot:       rel.Slot,
				Email:      req.Email,
				Phone:      req.Phone,
				ReleasedAt: now,
			}
			select {
			case d.queue <- notice:
			default:
				metrics.IncNotification("dropped")
				d.logger.Warn().
					Str("slot", rel.Slot.String()).
					Str("request_id", req.ID).
					Msg("release queue full, notice dropped")
			}
		}
	}
}

// Start delivers queued notices until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info().Msg("dispatcher started")
	defer d.logger.Info().Msg("dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case notice := <-d.queue:
			d.deliver(ctx, notice)
		}
	}
}

// Pending reports how many notices wait in the queue.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) deliver(ctx context.Context, notice models.FreedSlotNotice) {
	for attempt := 1; ; attempt++ {
		err := d.notifier.Notify(ctx, notice)
		if err == nil {
			metrics.IncNotification("sent")
			return
		}

		if attempt >= d.retryPolicy.MaxRetries {
			metrics.IncNotification("failed")
			d.logger.Error().Err(err).
				Str("slot", notice.Slot.String()).
				Str("request_id", notice.RequestID).
				Int("attempts", attempt).
				Msg("notice delivery failed")
			d.pushDeadLetter(ctx, notice)
			return
		}

		d.logger.Warn().Err(err).
			Str("request_id", notice.RequestID).
			Int("attempt", attempt).
			Msg("notice delivery failed, retrying")

		if werr := d.retryPolicy.Wait(ctx, attempt); werr != nil {
			metrics.IncNotification("failed")
			d.pushDeadLetter(context.WithoutCancel(ctx), notice)
			return
		}
	}
}

func (d *Dispatcher) pushDeadLetter(ctx context.Context, notice models.FreedSlotNotice) {
	if d.redis == nil {
		return
	}
	data, err := json.Marshal(notice)
	if err != nil {
		d.logger.Error().Err(err).Str("request_id", notice.RequestID).Msg("encode deadletter")
		return
	}
	if err := d.redis.LPush(ctx, d.deadLetterKey, data).Err(); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error().Err(err).Str("request_id", notice.RequestID).Msg("deadletter push")
	}
}
