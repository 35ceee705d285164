package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	flowpilot "github.com/goliatone/go-flowpilot"
)

const redisKeyPrefix = "flowpilot:session:"

// RedisRegistry stores sessions in Redis with a per-key TTL, so tokens
// survive restarts and can be shared between instances.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
	newID  func() string
}

type RedisOption func(*RedisRegistry)

// WithRedisTTL overrides the session lifetime.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *RedisRegistry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRedisTokenGenerator overrides token minting.
func WithRedisTokenGenerator(newID func() string) RedisOption {
	return func(r *RedisRegistry) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// NewRedisRegistry connects to Redis at url (redis://host:port) and
// verifies the connection.
func NewRedisRegistry(ctx context.Context, url string, opts ...RedisOption) (*RedisRegistry, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	r := &RedisRegistry{
		client: client,
		ttl:    DefaultTTL,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

func (r *RedisRegistry) Create(ctx context.Context, ref Reference) (string, error) {
	data, err := json.Marshal(ref)
	if err != nil {
		return "", fmt.Errorf("encode session reference: %w", err)
	}

	token := r.newID()
	if err := r.client.Set(ctx, redisKeyPrefix+token, data, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

func (r *RedisRegistry) Resolve(ctx context.Context, token string) (Reference, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+token).Bytes()
	if err == redis.Nil {
		return Reference{}, flowpilot.NewMissingSession(token)
	}
	if err != nil {
		return Reference{}, fmt.Errorf("resolve session: %w", err)
	}

	var ref Reference
	if err := json.Unmarshal(data, &ref); err != nil {
		return Reference{}, fmt.Errorf("decode session reference: %w", err)
	}
	return ref, nil
}

func (r *RedisRegistry) Delete(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
