package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const notifyKeyPrefix = "notify:"

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// RedisNotificationStore keeps one list per slot; the list expires when the slot starts.
type RedisNotificationStore struct {
	client *redis.Client
	logger *zerolog.Logger
}

func NewRedisNotificationStore(client *redis.Client, logger *zerolog.Logger) *RedisNotificationStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "redis_notifications").Logger()
	return &RedisNotificationStore{client: client, logger: &l}
}

func notifyKey(slot models.SlotID) string {
	return notifyKeyPrefix + slot.String()
}

func (r *RedisNotificationStore) Append(ctx context.Context, req models.NotificationRequest, expiresAt time.Time) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	key := notifyKey(req.SlotID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if !expiresAt.IsZero() {
		pipe.ExpireAt(ctx, key, expiresAt)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append notification in redis: %w", err)
	}
	return nil
}

func (r *RedisNotificationStore) Drain(ctx context.Context, slot models.SlotID) ([]models.NotificationRequest, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	key := notifyKey(slot)
	pipe := r.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to drain notifications from redis: %w", err)
	}

	// The list is already deleted; a bad entry is skipped, not allowed to drop the rest.
	raw := rangeCmd.Val()
	out := make([]models.NotificationRequest, 0, len(raw))
	for i, item := range raw {
		var req models.NotificationRequest
		if err := json.Unmarshal([]byte(item), &req); err != nil {
			r.logger.Error().Err(err).Str("slot", slot.String()).Int("index", i).Msg("skipping malformed notification")
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

// Ping checks the connection.
func (r *RedisNotificationStore) Ping(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return r.client.Ping(ctx).Err()
}
