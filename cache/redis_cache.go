package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache is a RemoteCache on a redis server. All keys are stored below keyPrefix.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// InitRedisCache connects to redisAddress and fails when the server does not answer a ping.
func InitRedisCache(ctx context.Context, redisAddress string, keyPrefix string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        redisAddress,
		ReadTimeout: 20 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
	}, nil
}

func (cache *RedisCache) SetBytes(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return cache.client.Set(ctx, cache.keyPrefix+key, value, expiration).Err()
}

func (cache *RedisCache) GetBytes(ctx context.Context, key string) ([]byte, error) {
	value, err := cache.client.Get(ctx, cache.keyPrefix+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, CacheMissError
	case err != nil:
		return nil, err
	}
	return value, nil
}

func (cache *RedisCache) Delete(ctx context.Context, key string) (bool, error) {
	deleted, err := cache.client.Del(ctx, cache.keyPrefix+key).Result()
	return deleted > 0, err
}

func (cache *RedisCache) Close() error {
	return cache.client.Close()
}
