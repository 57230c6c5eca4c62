package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/stine-notifier/stine/pkg/entity"
)

const redisKeyPrefix = "stine:entity:"

// RedisStore keeps one JSON record per key. Entries have no TTL; they live
// until invalidated.
type RedisStore struct {
	client *redis.Client
	prefix string
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix overrides the default key prefix.
	Prefix string
}

func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = redisKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (r *RedisStore) key(k entity.Key) string {
	return fmt.Sprintf("%s%s:%s:%s", r.prefix, k.Kind, k.Language, k.ID)
}

func (r *RedisStore) Load(ctx context.Context, key entity.Key) (Entry, error) {
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return Entry{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	return decodeRecord(key, b)
}

// Save replaces the record with a single SET, which redis applies atomically.
func (r *RedisStore) Save(ctx context.Context, e Entry) error {
	b, err := encodeRecord(e)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(e.Value.Key), b, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", e.Value.Key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key entity.Key) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Count returns the number of cached entries under the store prefix.
func (r *RedisStore) Count(ctx context.Context) (int, error) {
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 500).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan: %w", err)
		}
		n += len(keys)
		if next == 0 {
			return n, nil
		}
		cursor = next
	}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
