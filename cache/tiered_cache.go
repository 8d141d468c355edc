package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/coocood/freecache"
	"github.com/sirupsen/logrus"
)

var CacheMissError error = errors.New("cache miss")

// RemoteCache is a byte store shared between bankwatch instances.
type RemoteCache interface {
	SetBytes(ctx context.Context, key string, value []byte, expiration time.Duration) error
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
}

// SetJSON stores value json encoded.
func SetJSON(ctx context.Context, store RemoteCache, key string, value any, expiration time.Duration) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return store.SetBytes(ctx, key, encoded, expiration)
}

// GetJSON decodes the value stored under key into out. A missing key returns CacheMissError.
func GetJSON(ctx context.Context, store RemoteCache, key string, out any) error {
	encoded, err := store.GetBytes(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, out)
}

// TieredCache keeps values in a process local freecache in front of an optional remote cache.
// Values read from the remote tier are copied into the local one for their remaining lifetime.
type TieredCache struct {
	local  *freecache.Cache
	remote RemoteCache
	now    func() time.Time
}

// tieredEntry carries the absolute expiry so a remote hit knows how long to keep it locally.
type tieredEntry struct {
	ExpiresAt int64           `json:"e,omitempty"`
	Value     json.RawMessage `json:"v"`
}

// NewTieredCache allocates cacheSize MB locally and connects to redis when redisAddress is set.
func NewTieredCache(cacheSize int, redisAddress string, redisPrefix string) (*TieredCache, error) {
	var remote RemoteCache
	if redisAddress != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		redisCache, err := InitRedisCache(ctx, redisAddress, redisPrefix)
		if err != nil {
			logrus.WithError(err).Errorf("error connecting to redis cache at %v", redisAddress)
			return nil, err
		}
		remote = redisCache
	}

	return newTieredCache(cacheSize, remote), nil
}

func newTieredCache(cacheSize int, remote RemoteCache) *TieredCache {
	return &TieredCache{
		local:  freecache.NewCache(cacheSize * 1024 * 1024),
		remote: remote,
		now:    time.Now,
	}
}

func (cache *TieredCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	encodedValue, err := json.Marshal(value)
	if err != nil {
		return err
	}

	entry := tieredEntry{Value: encodedValue}
	if expiration > 0 {
		entry.ExpiresAt = cache.now().Add(expiration).Unix()
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	if err := cache.local.Set([]byte(key), encoded, expireSeconds(expiration)); err != nil {
		logrus.WithField("key", key).Debugf("value not kept in local cache: %v", err)
	}
	if cache.remote == nil {
		return nil
	}
	return cache.remote.SetBytes(ctx, key, encoded, expiration)
}

// Get decodes the value stored under key into out. A missing key returns CacheMissError.
func (cache *TieredCache) Get(ctx context.Context, key string, out any) error {
	encoded, err := cache.local.Get([]byte(key))
	if err != nil {
		if cache.remote == nil {
			return CacheMissError
		}
		encoded, err = cache.remote.GetBytes(ctx, key)
		if err != nil {
			return err
		}
		cache.keepLocal(key, encoded)
	}

	entry := tieredEntry{}
	if err := json.Unmarshal(encoded, &entry); err != nil {
		cache.local.Del([]byte(key))
		return err
	}
	return json.Unmarshal(entry.Value, out)
}

func (cache *TieredCache) keepLocal(key string, encoded []byte) {
	entry := tieredEntry{}
	if json.Unmarshal(encoded, &entry) != nil {
		return
	}

	expireSeconds := 0
	if entry.ExpiresAt != 0 {
		expireSeconds = int(entry.ExpiresAt - cache.now().Unix())
		if expireSeconds < 2 {
			// about to expire remotely too
			return
		}
	}
	cache.local.Set([]byte(key), encoded, expireSeconds)
}

func (cache *TieredCache) Delete(ctx context.Context, key string) error {
	cache.local.Del([]byte(key))
	if cache.remote == nil {
		return nil
	}
	_, err := cache.remote.Delete(ctx, key)
	return err
}
