package business

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store keeps business configs as JSON blobs in Redis.
type Store struct {
	redis *redis.Client
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) key(businessID string) string {
	return fmt.Sprintf("business:config:%s", businessID)
}

// Get retrieves the business config, returning the default if none is stored.
func (s *Store) Get(ctx context.Context, businessID string) (*Config, error) {
	data, err := s.redis.Get(ctx, s.key(businessID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return DefaultConfig(businessID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("business: get config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("business: unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Set validates and saves the business config.
func (s *Store) Set(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("business: marshal config: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(cfg.BusinessID), data, 0).Err(); err != nil {
		return fmt.Errorf("business: set config: %w", err)
	}
	return nil
}

// Source is what consumers need from a config store.
type Source interface {
	Get(ctx context.Context, businessID string) (*Config, error)
}

// StaticSource serves one fixed config, for tests and the in-memory mode.
type StaticSource struct {
	Config *Config
}

func (s StaticSource) Get(ctx context.Context, businessID string) (*Config, error) {
	if s.Config == nil {
		return DefaultConfig(businessID), nil
	}
	cp := *s.Config
	return &cp, nil
}
