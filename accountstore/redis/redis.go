// Package redis provides a Redis-backed implementation of accountstore.Store
// so that several application processes share one secret and session.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/finbyz/icaccount/accountstore"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// RedisDB selects the logical database. ENV: REDIS_DB
	RedisDB int `env:"REDIS_DB,default=0"`
	// KeyPrefix for all keys. ENV: ACCOUNT_KEY_PREFIX
	KeyPrefix string `env:"ACCOUNT_KEY_PREFIX,default=icaccount:"`
}

// Store implements accountstore.Store on top of a Redis client.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

var _ accountstore.Store = (*Store)(nil)

// storedSession is the structure stored in Redis for a session.
type storedSession struct {
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// New dials Redis per cfg and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.RedisDB})
	s, err := NewWithClient(ctx, cl, cfg.KeyPrefix)
	if err != nil {
		_ = cl.Close()
		return nil, err
	}
	return s, nil
}

// NewWithClient wraps an existing client. The store takes ownership of it.
func NewWithClient(ctx context.Context, cl *redis.Client, keyPrefix string) (*Store, error) {
	if cl == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := cl.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if keyPrefix == "" {
		keyPrefix = "icaccount:"
	}
	return &Store{client: cl, keyPrefix: keyPrefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(ctx, cfg)
}

func (s *Store) secretKey() string    { return s.keyPrefix + "api_secret" }
func (s *Store) sessionKey() string   { return s.keyPrefix + "auth_session" }
func (s *Store) enableAPIKey() string { return s.keyPrefix + "enable_api" }
func (s *Store) promoKey() string     { return s.keyPrefix + "api_promo_dismissed" }

func (s *Store) APISecret(ctx context.Context) (string, error) {
	val, err := s.client.Get(ctx, s.secretKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get key %s: %w", s.secretKey(), err)
	}
	return val, nil
}

func (s *Store) SetAPISecret(ctx context.Context, secret string) error {
	if secret == "" {
		if err := s.client.Del(ctx, s.secretKey()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", s.secretKey(), err)
		}
		return nil
	}
	if err := s.client.Set(ctx, s.secretKey(), secret, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", s.secretKey(), err)
	}
	return nil
}

func (s *Store) Session(ctx context.Context) (json.RawMessage, error) {
	val, err := s.client.Get(ctx, s.sessionKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", s.sessionKey(), err)
	}

	var item storedSession
	if err := json.Unmarshal(val, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored session: %w", err)
	}
	return item.Data, nil
}

func (s *Store) SetSession(ctx context.Context, session json.RawMessage) error {
	if err := accountstore.ValidateSession(session); err != nil {
		return err
	}
	if accountstore.IsEmptySession(session) {
		return s.ClearSession(ctx)
	}

	data, err := json.Marshal(storedSession{Data: session, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", s.sessionKey(), err)
	}
	return nil
}

func (s *Store) ClearSession(ctx context.Context) error {
	if err := s.client.Del(ctx, s.sessionKey()).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", s.sessionKey(), err)
	}
	return nil
}

func (s *Store) APIEnabled(ctx context.Context) (bool, error) {
	return s.flag(ctx, s.enableAPIKey())
}

func (s *Store) SetAPIEnabled(ctx context.Context, enabled bool) error {
	return s.setFlag(ctx, s.enableAPIKey(), enabled)
}

func (s *Store) PromoDismissed(ctx context.Context) (bool, error) {
	return s.flag(ctx, s.promoKey())
}

func (s *Store) DismissPromo(ctx context.Context) error {
	return s.setFlag(ctx, s.promoKey(), true)
}

// flag reads a key holding "1" or "0"; a missing key is false.
func (s *Store) flag(ctx context.Context, key string) (bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val == "1", nil
}

func (s *Store) setFlag(ctx context.Context, key string, on bool) error {
	val := "0"
	if on {
		val = "1"
	}
	if err := s.client.Set(ctx, key, val, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }
