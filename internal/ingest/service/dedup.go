package service

import (
	"context"
	"time"

	"leadscore_backend/platform/config"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "events:dedup:"

// RedisDeduper remembers event identities for a TTL so webhook retries and
// queue redeliveries collapse to one processed event per ID.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(cfg config.DedupConfig) (*RedisDeduper, error) {
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}

	ttl := cfg.GetDedupTTL()
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisDeduper{
		client: redis.NewClient(opt),
		ttl:    ttl,
	}, nil
}

func (d *RedisDeduper) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

// FirstSeen marks the event ID and reports whether this call was the first
// sighting within the TTL window.
func (d *RedisDeduper) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	return d.client.SetNX(ctx, dedupKeyPrefix+eventID, 1, d.ttl).Result()
}

// Forget releases the event ID so a queue retry can claim it again.
func (d *RedisDeduper) Forget(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, dedupKeyPrefix+eventID).Err()
}
