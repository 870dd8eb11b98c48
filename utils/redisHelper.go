package utils

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by GetRedisJSON when the key is absent or the
// client is nil.
var ErrCacheMiss = errors.New("cache miss")

// SetRedisJSON stores obj as JSON. A nil client is a no-op.
func SetRedisJSON(ctx context.Context, rdb *redis.Client, key string, obj any, ttl time.Duration) error {
	if rdb == nil {
		return nil
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, data, ttl).Err()
}

// GetRedisJSON loads key into dest.
func GetRedisJSON(ctx context.Context, rdb *redis.Client, key string, dest any) error {
	if rdb == nil {
		return ErrCacheMiss
	}
	data, err := rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func RemoveRedisKey(ctx context.Context, rdb *redis.Client, keys ...string) error {
	if rdb == nil || len(keys) == 0 {
		return nil
	}
	return rdb.Del(ctx, keys...).Err()
}
