package cartd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "cartd:cart:"
	redisMaxAttempts = 8
)

// RedisStore keeps one JSON document per session and updates it with WATCH/MULTI so
// concurrent requests for a session never lose writes.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// OpenRedisStore parses a redis:// URL, connects, and verifies the server answers.
func OpenRedisStore(ctx context.Context, rawURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cartd: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cartd: ping redis: %w", err)
	}
	return NewRedisStore(client, ttl), nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Load returns the session cart, empty when absent. Reading refreshes the TTL.
func (s *RedisStore) Load(ctx context.Context, session string) (Cart, error) {
	var cmd *redis.StringCmd
	if s.ttl > 0 {
		cmd = s.client.GetEx(ctx, redisKey(session), s.ttl)
	} else {
		cmd = s.client.Get(ctx, redisKey(session))
	}
	data, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return Cart{}, nil
	}
	if err != nil {
		return Cart{}, fmt.Errorf("cartd: load cart: %w", err)
	}
	return decodeCart(data)
}

// Update applies fn inside an optimistic transaction, retrying when another writer wins.
func (s *RedisStore) Update(ctx context.Context, session string, fn func(*Cart) error) (Cart, error) {
	key := redisKey(session)
	var result Cart

	txf := func(tx *redis.Tx) error {
		working := Cart{}
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if working, err = decodeCart(data); err != nil {
				return err
			}
		}

		if err := fn(&working); err != nil {
			return err
		}
		payload, err := json.Marshal(working)
		if err != nil {
			return fmt.Errorf("cartd: encode cart: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		if err == nil {
			result = working
		}
		return err
	}

	for attempt := 0; attempt < redisMaxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Cart{}, err
	}
	return Cart{}, fmt.Errorf("cartd: update cart: %w", redis.TxFailedErr)
}

func redisKey(session string) string {
	return redisKeyPrefix + session
}

func decodeCart(data []byte) (Cart, error) {
	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return Cart{}, fmt.Errorf("cartd: decode cart: %w", err)
	}
	return c, nil
}
