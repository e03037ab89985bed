package message

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// opTimeout bounds a single Redis round trip.
const opTimeout = 2 * time.Second

// nextIDKey is the counter from which durable message ids are assigned.
const nextIDKey = "messages:next_id"

// redisKey returns the Redis key for a conversation's message list.
func redisKey(a, b string) string {
	return "conv:" + PairKey(a, b)
}

// RedisStore persists messages in Redis using a list per conversation.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a Redis-backed message store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Append assigns the next id from a Redis counter, stamps the message and
// pushes it onto the conversation list.
func (s *RedisStore) Append(ctx context.Context, m *Message) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	id, err := s.client.Incr(ctx, nextIDKey).Result()
	if err != nil {
		return fmt.Errorf("redis: assign message id: %w", err)
	}
	m.ID = id
	m.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal message: %w", err)
	}
	if err := s.client.RPush(ctx, redisKey(m.Sender, m.Recipient), data).Err(); err != nil {
		return fmt.Errorf("redis: append message: %w", err)
	}
	return nil
}

// ListBetween returns the conversation between a and b, oldest first.
func (s *RedisStore) ListBetween(ctx context.Context, a, b string) ([]*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	vals, err := s.client.LRange(ctx, redisKey(a, b), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read conversation: %w", err)
	}

	msgs := make([]*Message, 0, len(vals))
	for _, v := range vals {
		var m Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

// Remove scans the conversation holding the client id for the matching
// element and removes it, provided the stored sender matches.
func (s *RedisStore) Remove(ctx context.Context, clientID, sender string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// The conversation key is not derivable from the client id alone, so
	// scan the conversation lists for the matching element.
	iter := s.client.Scan(ctx, 0, "conv:*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		vals, err := s.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return false, fmt.Errorf("redis: read conversation: %w", err)
		}
		for _, v := range vals {
			var m Message
			if err := json.Unmarshal([]byte(v), &m); err != nil {
				continue
			}
			if m.ClientID != clientID {
				continue
			}
			if m.Sender != sender {
				return false, nil
			}
			if err := s.client.LRem(ctx, key, 1, v).Err(); err != nil {
				return false, fmt.Errorf("redis: remove message: %w", err)
			}
			return true, nil
		}
	}
	if err := iter.Err(); err != nil {
		return false, fmt.Errorf("redis: scan conversations: %w", err)
	}
	return false, nil
}
