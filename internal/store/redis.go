// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of the [Store] interface. Each
// collection is a hash.
type RedisStore struct {
	rdb  *redis.Client
	hash string
}

// NewRedisStore connects to Redis at redisURL and checks the connection.
func NewRedisStore(ctx context.Context, redisURL, collection string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &RedisStore{rdb: rdb, hash: "hush/" + collection}, nil
}

// All returns all fields of the hash.
func (s *RedisStore) All(ctx context.Context) (map[string][]byte, error) {
	fields, err := s.rdb.HGetAll(ctx, s.hash).Result()
	if err != nil {
		return nil, err
	}
	all := make(map[string][]byte, len(fields))
	for k, v := range fields {
		all[k] = []byte(v)
	}
	return all, nil
}

// Set sets a hash field.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.rdb.HSet(ctx, s.hash, key, value).Err()
}

// Ping verifies the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

// Close closes the client.
func (s *RedisStore) Close() error { return s.rdb.Close() }
