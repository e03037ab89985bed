package user

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// usersKey is the Redis set holding all registered usernames.
const usersKey = "users"

const opTimeout = 2 * time.Second

// RedisDirectory keeps registered usernames in a Redis set.
type RedisDirectory struct {
	client redis.Cmdable
}

// NewRedisDirectory creates a Redis-backed username directory.
func NewRedisDirectory(client redis.Cmdable) *RedisDirectory {
	return &RedisDirectory{client: client}
}

// Exists reports whether the username is registered.
func (d *RedisDirectory) Exists(ctx context.Context, username string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ok, err := d.client.SIsMember(ctx, usersKey, username).Result()
	if err != nil {
		return false, fmt.Errorf("redis: check username: %w", err)
	}
	return ok, nil
}

// Create registers the username, failing with ErrExists on duplicates.
func (d *RedisDirectory) Create(ctx context.Context, username string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	added, err := d.client.SAdd(ctx, usersKey, username).Result()
	if err != nil {
		return fmt.Errorf("redis: register username: %w", err)
	}
	if added == 0 {
		return ErrExists
	}
	return nil
}
