package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const settingsKey = "topup:settings"

// Hash fields under settingsKey.
const (
	FieldUsername     = "username"
	FieldAPIKey       = "api_key"
	FieldEndpoint     = "endpoint"
	FieldDelaySeconds = "delay_seconds"
)

// Settings is the dashboard configuration consumed by the dispatch path.
type Settings struct {
	Username     string
	APIKey       string
	Endpoint     string
	DelaySeconds float64
}

// Credentials is the subset required to sign a provider request.
type Credentials struct {
	Username string
	APIKey   string
	Endpoint string
}

// Store reads settings from Redis and keeps them in an explicit TTL cache.
// Writes go through Set, which invalidates the cache, so every reader holds
// the same Store and observes updates within at most one TTL.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
	log   *slog.Logger

	mu        sync.Mutex
	cached    *Settings
	fetchedAt time.Time
}

func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{
		redis: client,
		ttl:   ttl,
		log:   slog.With("component", "settings"),
	}
}

// Get returns the current settings, served from cache while it is fresh.
func (s *Store) Get(ctx context.Context) (*Settings, error) {
	s.mu.Lock()
	if s.cached != nil && time.Since(s.fetchedAt) < s.ttl {
		cached := *s.cached
		s.mu.Unlock()
		return &cached, nil
	}
	s.mu.Unlock()

	values, err := s.redis.HGetAll(ctx, settingsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("couldn't fetch settings: %w", err)
	}

	delay, _ := strconv.ParseFloat(values[FieldDelaySeconds], 64)

	fetched := &Settings{
		Username:     values[FieldUsername],
		APIKey:       values[FieldAPIKey],
		Endpoint:     values[FieldEndpoint],
		DelaySeconds: delay,
	}

	s.mu.Lock()
	s.cached = fetched
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	result := *fetched
	return &result, nil
}

// Credentials returns the signing credentials, failing fast with a
// descriptive error when either part is missing. Called once per dispatched
// item, so a mid-batch settings fix takes effect for the remaining items.
func (s *Store) Credentials(ctx context.Context) (Credentials, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return Credentials{}, err
	}

	if current.Username == "" {
		return Credentials{}, fmt.Errorf("provider username is not configured")
	}
	if current.APIKey == "" {
		return Credentials{}, fmt.Errorf("provider API key is not configured")
	}

	return Credentials{
		Username: current.Username,
		APIKey:   current.APIKey,
		Endpoint: current.Endpoint,
	}, nil
}

// Set writes one settings field and invalidates the cache.
func (s *Store) Set(ctx context.Context, field, value string) error {
	err := s.redis.HSet(ctx, settingsKey, field, value).Err()
	if err != nil {
		return fmt.Errorf("couldn't store setting %s: %w", field, err)
	}

	s.Invalidate()
	return nil
}

// Invalidate drops the cached settings so the next Get re-reads Redis.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()

	s.log.Debug("Settings cache invalidated")
}
