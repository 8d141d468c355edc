package cache

import (
	"context"
	"time"

	"github.com/coocood/freecache"
)

// LocalCache is an in-process RemoteCache for deployments without redis.
// Entries do not survive a restart.
type LocalCache struct {
	cache     *freecache.Cache
	keyPrefix string
}

func NewLocalCache(cacheSize int, keyPrefix string) *LocalCache {
	return &LocalCache{
		cache:     freecache.NewCache(cacheSize * 1024 * 1024),
		keyPrefix: keyPrefix,
	}
}

func (cache *LocalCache) SetBytes(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return cache.cache.Set([]byte(cache.keyPrefix+key), value, expireSeconds(expiration))
}

func (cache *LocalCache) GetBytes(ctx context.Context, key string) ([]byte, error) {
	value, err := cache.cache.Get([]byte(cache.keyPrefix + key))
	if err == freecache.ErrNotFound {
		return nil, CacheMissError
	}
	return value, err
}

func (cache *LocalCache) Delete(ctx context.Context, key string) (bool, error) {
	return cache.cache.Del([]byte(cache.keyPrefix + key)), nil
}

// expireSeconds rounds sub-second expirations up so they do not turn into "never expire".
func expireSeconds(expiration time.Duration) int {
	if expiration <= 0 {
		return 0
	}
	seconds := int(expiration / time.Second)
	if expiration%time.Second != 0 {
		seconds++
	}
	return seconds
}
