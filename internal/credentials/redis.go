// File: internal/credentials/redis.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/momentics/hioload-chat/api"
)

// RedisKeyPrefix prefixes every user hash.
const RedisKeyPrefix = "chat:user:"

const (
	fieldSecret = "secret"
	fieldFirst  = "first_name"
	fieldLast   = "last_name"
)

// RedisStore keeps each user in a hash at chat:user:<name>. The secret
// field is claimed with HSETNX, so concurrent sign-ups of one name across
// processes have exactly one winner.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisStore connects to addr and verifies it with PING.
func NewRedisStore(ctx context.Context, addr string, log *slog.Logger) (*RedisStore, error) {
	if log == nil {
		log = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w: %w", addr, api.ErrBackendDown, err)
	}
	log.Info("credential store opened", "backend", "redis", "addr", addr)
	return &RedisStore{client: client, log: log}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{client: client, log: log}
}

func (s *RedisStore) Lookup(ctx context.Context, username string) (string, bool, error) {
	secret, err := s.client.HGet(ctx, RedisKeyPrefix+username, fieldSecret).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("redis lookup %s: %w: %w", username, api.ErrBackendDown, err)
	}
	return secret, true, nil
}

func (s *RedisStore) Store(ctx context.Context, u api.User) error {
	key := RedisKeyPrefix + u.Username
	claimed, err := s.client.HSetNX(ctx, key, fieldSecret, u.Secret).Result()
	if err != nil {
		return fmt.Errorf("redis store %s: %w: %w", u.Username, api.ErrBackendDown, err)
	}
	if !claimed {
		return api.ErrAlreadyExists
	}
	if err := s.client.HSet(ctx, key, fieldFirst, u.FirstName, fieldLast, u.LastName).Err(); err != nil {
		s.log.Warn("user profile not saved", "user", u.Username, "err", err)
	}
	return nil
}

// Profile returns the stored names of username.
func (s *RedisStore) Profile(ctx context.Context, username string) (api.User, error) {
	vals, err := s.client.HGetAll(ctx, RedisKeyPrefix+username).Result()
	if err != nil {
		return api.User{}, fmt.Errorf("redis profile %s: %w: %w", username, api.ErrBackendDown, err)
	}
	if len(vals) == 0 {
		return api.User{}, api.ErrNotFound
	}
	return api.User{Username: username, FirstName: vals[fieldFirst], LastName: vals[fieldLast]}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
