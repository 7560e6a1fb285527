package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKV stores registry entries in Redis. Values are plain strings and
// indexes are lists.
type RedisKV struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisKV wraps client; every key is namespaced with prefix.
func NewRedisKV(client redis.UniversalClient, prefix string) *RedisKV {
	return &RedisKV{client: client, prefix: prefix}
}

// OpenRedis parses a redis:// URL and verifies connectivity.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("registry: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("registry: ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisKV) key(k string) string { return r.prefix + k }

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: redis get: %w", err)
	}
	return v, nil
}

func (r *RedisKV) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(key), value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("registry: redis setnx: %w", err)
	}
	return ok, nil
}

func (r *RedisKV) CompareAndSwap(ctx context.Context, key string, old, new []byte) (bool, error) {
	k := r.key(key)
	swapped := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !bytes.Equal(cur, old) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, new, 0)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}, k)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return false, nil
	case errors.Is(err, ErrNotFound):
		return false, ErrNotFound
	case err != nil:
		return false, fmt.Errorf("registry: redis swap: %w", err)
	}
	return swapped, nil
}

func (r *RedisKV) AppendIndex(ctx context.Context, index, member string) error {
	if err := r.client.RPush(ctx, r.key(index), member).Err(); err != nil {
		return fmt.Errorf("registry: redis rpush: %w", err)
	}
	return nil
}

func (r *RedisKV) Index(ctx context.Context, index string) ([]string, error) {
	members, err := r.client.LRange(ctx, r.key(index), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: redis lrange: %w", err)
	}
	seen := make(map[string]struct{}, len(members))
	out := members[:0]
	for _, m := range members {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out, nil
}

var _ KV = (*RedisKV)(nil)
