package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ev-telemetry/processing/internal/config"
	"ev-telemetry/processing/internal/domain"
)

// RedisStore speaks to the pub/sub transport and holds the small bits
// of shared state other services publish for us (access limits, alert
// dedup keys).
type RedisStore struct {
	client *redis.Client
	cfg    *config.Config
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, cfg: cfg}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Subscribe returns the channel of raw telemetry payloads from the
// ingest transport. Delivery is at-least-once and ordering across hops
// is not guaranteed; the buffer re-sorts downstream.
func (r *RedisStore) Subscribe(ctx context.Context) (<-chan []byte, func() error) {
	sub := r.client.Subscribe(ctx, r.cfg.IngestChannel)
	out := make(chan []byte, 1000)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, sub.Close
}

// PublishLive pushes an enriched record to the dashboard channel and
// refreshes the per-session live-state hash.
func (r *RedisStore) PublishLive(ctx context.Context, rec *domain.TelemetryRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	stateKey := fmt.Sprintf("session:%s:state", rec.SessionID)

	pipe := r.client.Pipeline()
	pipe.Set(ctx, stateKey, payload, 30*time.Second)
	pipe.Publish(ctx, r.cfg.LiveChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// GetAccessLimit resolves the maximum historical record count granted
// to an API key. Zero means no entry; the caller falls back to the
// configured default. The value is maintained by the authorization
// service, not by us.
func (r *RedisStore) GetAccessLimit(ctx context.Context, apiKey string) (int, error) {
	key := fmt.Sprintf("access:limit:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get access limit failed: %w", err)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("malformed access limit %q: %w", val, err)
	}
	return n, nil
}

func (r *RedisStore) CheckAlertDedup(ctx context.Context, sessionID, field string) (bool, error) {
	key := fmt.Sprintf("alert:%s:%s", sessionID, field)
	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return count > 0, nil
}

func (r *RedisStore) SetAlertDedup(ctx context.Context, sessionID, field string) error {
	key := fmt.Sprintf("alert:%s:%s", sessionID, field)
	return r.client.Set(ctx, key, "1", 5*time.Minute).Err()
}

func (r *RedisStore) PublishAlert(ctx context.Context, payload []byte) error {
	return r.client.Publish(ctx, r.cfg.AlertChannel, payload).Err()
}
