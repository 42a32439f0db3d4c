package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"track-enricher/internal/crypto"
	"track-enricher/internal/redis"
)

// RedisInterface is the subset of the Redis client the storage needs.
type RedisInterface interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisTokenStorage shares tokens between instances through Redis. Entries
// expire together with the token. When an encryptor is configured the
// serialized token is sealed with it before it leaves the process.
type RedisTokenStorage struct {
	client    RedisInterface
	encryptor *crypto.ConfigEncryptor
	prefix    string
	now       func() time.Time
}

// NewRedisTokenStorage creates a Redis-backed store. encryptor may be nil.
func NewRedisTokenStorage(client RedisInterface, encryptor *crypto.ConfigEncryptor) *RedisTokenStorage {
	return &RedisTokenStorage{
		client:    client,
		encryptor: encryptor,
		prefix:    "track-enricher:oauth2:token:",
		now:       time.Now,
	}
}

// SaveToken stores token until its expiry. Tokens that are already expired
// are not written.
func (s *RedisTokenStorage) SaveToken(ctx context.Context, key string, token *Token) error {
	ttl := token.Expiry.Sub(s.now())
	if token.Expiry.IsZero() || ttl <= 0 {
		return nil
	}

	var value string
	if s.encryptor != nil {
		sealed, err := s.encryptor.EncryptJSON(token)
		if err != nil {
			return fmt.Errorf("failed to encrypt token: %w", err)
		}
		value = sealed
	} else {
		data, err := json.Marshal(token)
		if err != nil {
			return fmt.Errorf("failed to serialize token: %w", err)
		}
		value = string(data)
	}

	return s.client.Set(ctx, s.prefix+key, value, ttl)
}

// LoadToken returns nil without error when no token is stored.
func (s *RedisTokenStorage) LoadToken(ctx context.Context, key string) (*Token, error) {
	data, err := s.client.Get(ctx, s.prefix+key)
	if err != nil {
		if redis.IsNil(err) {
			return nil, nil
		}
		return nil, err
	}
	if data == "" {
		return nil, nil
	}

	var token Token
	if s.encryptor != nil {
		if err := s.encryptor.DecryptJSON(data, &token); err != nil {
			return nil, fmt.Errorf("failed to decrypt token: %w", err)
		}
		return &token, nil
	}
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return nil, fmt.Errorf("failed to deserialize token: %w", err)
	}
	return &token, nil
}

func (s *RedisTokenStorage) DeleteToken(ctx context.Context, key string) error {
	return s.client.Delete(ctx, s.prefix+key)
}
