// Package session keeps anonymous reader sessions in Redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"morningpulse/api/internal/identity"
	"morningpulse/api/internal/util"
)

var ErrSessionNotFound = errors.New("session not found or expired")

// SessionData holds the data stored for each anonymous token
type SessionData struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore issues and resolves anonymous reader sessions
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: "anon:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

// IssueAnonymous creates a reader identity and returns the token that names it.
func (s *RedisStore) IssueAnonymous(ctx context.Context) (string, identity.Identity, error) {
	token := uuid.NewString()
	data := SessionData{
		UserID:    util.NewID("anon"),
		CreatedAt: time.Now().UTC(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", identity.Identity{}, fmt.Errorf("marshal session data: %w", err)
	}
	if err := s.client.Set(ctx, s.key(token), jsonData, s.ttl).Err(); err != nil {
		return "", identity.Identity{}, fmt.Errorf("save anonymous session: %w", err)
	}
	return token, anonymousIdentity(data), nil
}

// Lookup resolves a token and slides its expiry forward.
func (s *RedisStore) Lookup(ctx context.Context, token string) (identity.Identity, error) {
	key := s.key(token)
	jsonData, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return identity.Identity{}, ErrSessionNotFound
	}
	if err != nil {
		return identity.Identity{}, fmt.Errorf("lookup anonymous session: %w", err)
	}

	var data SessionData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return identity.Identity{}, fmt.Errorf("unmarshal session data: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return identity.Identity{}, fmt.Errorf("refresh anonymous session: %w", err)
	}
	return anonymousIdentity(data), nil
}

// Revoke deletes a session
func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("revoke anonymous session: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func anonymousIdentity(data SessionData) identity.Identity {
	return identity.Identity{
		UserID:      data.UserID,
		DisplayName: "Reader",
		Role:        "reader",
		Anonymous:   true,
	}
}
