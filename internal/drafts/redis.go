package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTTL bounds how long an abandoned draft survives in Redis.
const DefaultTTL = 7 * 24 * time.Hour

// RedisStore keeps drafts in Redis with an expiry.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisStore creates a Redis backed store. A non-positive ttl uses DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("drafts: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("fichaclinica.internal.drafts"),
	}
}

func (s *RedisStore) Save(ctx context.Context, slot string, d Draft) error {
	ctx, span := s.tracer.Start(ctx, "drafts.save", trace.WithAttributes(attribute.String("draft.slot", slot)))
	defer span.End()

	data, err := json.Marshal(d)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("drafts: marshal: %w", err)
	}
	if err := s.redis.Set(ctx, slot, data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("drafts: save: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, slot string) (*Draft, error) {
	ctx, span := s.tracer.Start(ctx, "drafts.load", trace.WithAttributes(attribute.String("draft.slot", slot)))
	defer span.End()

	data, err := s.redis.Get(ctx, slot).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("drafts: load: %w", err)
	}
	d, err := decode(data)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return d, nil
}

func (s *RedisStore) Clear(ctx context.Context, slot string) error {
	ctx, span := s.tracer.Start(ctx, "drafts.clear")
	defer span.End()

	if err := s.redis.Del(ctx, slot).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("drafts: clear: %w", err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, slot string) (bool, error) {
	n, err := s.redis.Exists(ctx, slot).Result()
	if err != nil {
		return false, fmt.Errorf("drafts: exists: %w", err)
	}
	return n > 0, nil
}
