package credstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the pair under two keys, <prefix>token and
// <prefix>refreshToken. MSET writes both atomically.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisStore returns a store using rdb. An empty prefix stores the bare
// key names.
func NewRedisStore(rdb redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(name string) string { return s.prefix + name }

// Save sets both keys with a single MSET.
func (s *RedisStore) Save(ctx context.Context, p Pair) error {
	if err := s.rdb.MSet(ctx,
		s.key(KeyAccess), p.Access,
		s.key(KeyRefresh), p.Refresh,
	).Err(); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return nil
}

// Load fetches both keys with MGET. A missing key comes back nil.
func (s *RedisStore) Load(ctx context.Context) (Pair, error) {
	vals, err := s.rdb.MGet(ctx, s.key(KeyAccess), s.key(KeyRefresh)).Result()
	if err != nil {
		return Pair{}, fmt.Errorf("loading credentials: %w", err)
	}
	access, _ := vals[0].(string)
	refresh, _ := vals[1].(string)
	return fromValues(access, refresh)
}

// Clear deletes both keys.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key(KeyAccess), s.key(KeyRefresh)).Err(); err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	return nil
}
