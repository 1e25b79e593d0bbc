package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/sitechat/internal/config"
	"github.com/MikeSquared-Agency/sitechat/internal/conversation"
	"github.com/MikeSquared-Agency/sitechat/internal/domain"
)

const settingsKey = "settings"

func contentKey(site string) string { return "site:" + site + ":content" }
func historyKey(site string) string { return "site:" + site + ":history" }
func crawlKey(id string) string     { return "crawl:" + id }

// CrawlRecord ties a crawl job to the site it was started for and remembers
// the last observed status.
type CrawlRecord struct {
	ID          string    `json:"id"`
	Site        string    `json:"site"`
	URL         string    `json:"url"`
	Status      string    `json:"status"`
	Completed   int       `json:"completed"`
	Total       int       `json:"total"`
	Pages       int       `json:"pages,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Sites is the typed view over a KV used by the rest of the service.
type Sites struct {
	kv KV
}

func NewSites(kv KV) *Sites {
	return &Sites{kv: kv}
}

// LoadBundle returns the site's stored pages, or nil if none were saved.
func (s *Sites) LoadBundle(ctx context.Context, site string) (domain.Bundle, error) {
	var b domain.Bundle
	if err := s.load(ctx, contentKey(site), &b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Sites) SaveBundle(ctx context.Context, site string, b domain.Bundle) error {
	return s.save(ctx, contentKey(site), b)
}

// LoadHistory returns the site's persisted turns, or nil if none were saved.
func (s *Sites) LoadHistory(ctx context.Context, site string) ([]conversation.Turn, error) {
	var turns []conversation.Turn
	if err := s.load(ctx, historyKey(site), &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

func (s *Sites) SaveHistory(ctx context.Context, site string, turns []conversation.Turn) error {
	if turns == nil {
		turns = []conversation.Turn{}
	}
	return s.save(ctx, historyKey(site), turns)
}

// ClearHistory removes the site's persisted turns.
func (s *Sites) ClearHistory(ctx context.Context, site string) error {
	return s.kv.Delete(ctx, historyKey(site))
}

// LoadOptions returns the saved settings. ok is false when none were saved.
func (s *Sites) LoadOptions(ctx context.Context) (opts config.Options, ok bool, err error) {
	data, err := s.kv.Get(ctx, settingsKey)
	if errors.Is(err, ErrNotFound) {
		return config.Options{}, false, nil
	}
	if err != nil {
		return config.Options{}, false, err
	}
	if err := json.Unmarshal(data, &opts); err != nil {
		return config.Options{}, false, fmt.Errorf("decode settings: %w", err)
	}
	return opts, true, nil
}

// SaveOptions stores the settings including credentials.
func (s *Sites) SaveOptions(ctx context.Context, opts config.Options) error {
	return s.save(ctx, settingsKey, opts)
}

func (s *Sites) LoadCrawl(ctx context.Context, id string) (*CrawlRecord, error) {
	data, err := s.kv.Get(ctx, crawlKey(id))
	if err != nil {
		return nil, err
	}
	var rec CrawlRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode crawl %s: %w", id, err)
	}
	return &rec, nil
}

func (s *Sites) SaveCrawl(ctx context.Context, rec CrawlRecord) error {
	return s.save(ctx, crawlKey(rec.ID), rec)
}

func (s *Sites) load(ctx context.Context, key string, v any) error {
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Sites) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Set(ctx, key, data)
}
