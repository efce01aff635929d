package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
)

const defaultKeyPrefix = "assist:idempotency:"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// redisClient is the subset of redis.Cmdable the store needs.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	SetXX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps idempotency records in Redis so keys survive restarts and
// are shared between daemon replicas.
type RedisStore struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store on an existing client. ttl of zero keeps
// records until deleted.
func NewRedisStore(client redisClient, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    ttl,
	}
}

// DialRedisStore connects to addr and verifies the connection.
func DialRedisStore(ctx context.Context, addr string, db int, ttl time.Duration) (*RedisStore, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("couldn't connect to redis at %s: %w", addr, err)
	}
	return NewRedisStore(client, ttl), client, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

// Get retrieves an existing record by key
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't read idempotency key %q: %w", key, err)
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("couldn't decode idempotency record %q: %w", key, err)
	}
	return &record, nil
}

// Create stores a pending record if the key is free
func (s *RedisStore) Create(ctx context.Context, key string) (*Record, error) {
	now := time.Now()
	record := &Record{
		Key:       key,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	created, err := s.client.SetNX(ctx, s.key(key), raw, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("couldn't create idempotency key %q: %w", key, err)
	}
	if !created {
		existing, getErr := s.Get(ctx, key)
		if getErr != nil {
			logger.WithFields(logger.Fields{
				"key":   key,
				"error": getErr,
			}).Warn("idempotency key taken but existing record unreadable")
			return nil, ErrDuplicateKey
		}
		return existing, ErrDuplicateKey
	}
	return record, nil
}

// Update overwrites an existing record, keeping its expiry
func (s *RedisStore) Update(ctx context.Context, record *Record) error {
	record.UpdatedAt = time.Now()
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}

	updated, err := s.client.SetXX(ctx, s.key(record.Key), raw, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("couldn't update idempotency key %q: %w", record.Key, err)
	}
	if !updated {
		return ErrKeyNotFound
	}
	return nil
}

// Delete removes a record by key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("couldn't delete idempotency key %q: %w", key, err)
	}
	return nil
}
