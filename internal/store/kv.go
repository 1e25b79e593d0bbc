// Package store persists crawl bundles, conversation history, settings and
// crawl records behind a small key/value interface with memory, Postgres and
// Redis backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MikeSquared-Agency/sitechat/internal/config"
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("store: key not found")

// KV is a byte-oriented key/value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Memory keeps values in process. State is lost on restart.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	m.mu.Lock()
	m.data[key] = v
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Open returns the backend named by cfg.StoreBackend.
func Open(ctx context.Context, cfg config.Config) (KV, error) {
	switch cfg.StoreBackend {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("SITECHAT_STORE=postgres requires DATABASE_URL")
		}
		return NewPostgres(ctx, cfg.DatabaseURL)
	case "redis":
		return NewRedis(RedisConfig{Address: cfg.RedisAddress, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
