package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zhenxun-org/zhenxun-core/errors"
)

// remotePrefix namespaces every key this process writes into the shared
// store.
const remotePrefix = "ZHENXUN:"

// opTimeout bounds each remote operation; on expiry the caller degrades to a
// miss.
const opTimeout = 3 * time.Second

// redisBackend stores values in a shared redis instance under
// "ZHENXUN:<NAMESPACE>:<key>".
type redisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a remote backend.
func NewRedisBackend(addr, password string, dbIndex int) Backend {
	return &redisBackend{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       dbIndex,
		}),
	}
}

func (r *redisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	val, err := r.client.Get(ctx, remotePrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	return val, true, nil
}

func (r *redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := r.client.Set(ctx, remotePrefix+key, value, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

func (r *redisBackend) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := r.client.Del(ctx, remotePrefix+key).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

func (r *redisBackend) Clear(ctx context.Context, prefix string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	iter := r.client.Scan(ctx, 0, remotePrefix+prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "redis scan")
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

func (r *redisBackend) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := r.client.Exists(ctx, remotePrefix+key).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis exists")
	}
	return n > 0, nil
}
