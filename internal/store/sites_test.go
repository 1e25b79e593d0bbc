package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/sitechat/internal/config"
	"github.com/MikeSquared-Agency/sitechat/internal/conversation"
	"github.com/MikeSquared-Agency/sitechat/internal/domain"
)

func TestSites_BundleAndHistoryAreKeyedBySite(t *testing.T) {
	kv := NewMemory()
	s := NewSites(kv)
	ctx := context.Background()

	bundle := domain.Bundle{{Title: "Home", SourceURL: "https://a.example/", Markdown: "# Home"}}
	require.NoError(t, s.SaveBundle(ctx, "a.example", bundle))
	require.NoError(t, s.SaveHistory(ctx, "a.example", []conversation.Turn{
		{Role: conversation.RoleUser, Content: "q"},
		{Role: conversation.RoleAssistant, Content: "a"},
	}))

	got, err := s.LoadBundle(ctx, "a.example")
	require.NoError(t, err)
	assert.Equal(t, bundle, got)

	turns, err := s.LoadHistory(ctx, "a.example")
	require.NoError(t, err)
	assert.Len(t, turns, 2)

	other, err := s.LoadBundle(ctx, "b.example")
	require.NoError(t, err)
	assert.Nil(t, other)

	_, err = kv.Get(ctx, "site:a.example:content")
	assert.NoError(t, err)
	_, err = kv.Get(ctx, "site:a.example:history")
	assert.NoError(t, err)
}

func TestSites_EmptyHistoryIsStoredAsEmptyList(t *testing.T) {
	kv := NewMemory()
	s := NewSites(kv)
	ctx := context.Background()

	require.NoError(t, s.SaveHistory(ctx, "a.example", nil))

	raw, err := kv.Get(ctx, "site:a.example:history")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestSites_ClearHistoryRemovesKey(t *testing.T) {
	kv := NewMemory()
	s := NewSites(kv)
	ctx := context.Background()
	require.NoError(t, s.SaveHistory(ctx, "a.example", []conversation.Turn{
		{Role: conversation.RoleUser, Content: "q"},
	}))
	require.NoError(t, s.SaveHistory(ctx, "b.example", []conversation.Turn{
		{Role: conversation.RoleUser, Content: "other"},
	}))

	require.NoError(t, s.ClearHistory(ctx, "a.example"))

	_, err := kv.Get(ctx, "site:a.example:history")
	assert.ErrorIs(t, err, ErrNotFound)
	turns, err := s.LoadHistory(ctx, "a.example")
	require.NoError(t, err)
	assert.Empty(t, turns)
	turns, err = s.LoadHistory(ctx, "b.example")
	require.NoError(t, err)
	assert.Len(t, turns, 1)

	assert.NoError(t, s.ClearHistory(ctx, "never.example"))
}

func TestSites_OptionsRoundTripKeepsCredentials(t *testing.T) {
	s := NewSites(NewMemory())
	ctx := context.Background()

	_, ok, err := s.LoadOptions(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	opts := config.DefaultOptions()
	opts.CrawlCredential = "fc-key"
	opts.ModelCredential = "sk-key"
	require.NoError(t, s.SaveOptions(ctx, opts))

	got, ok, err := s.LoadOptions(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fc-key", got.CrawlCredential)
	assert.Equal(t, "sk-key", got.ModelCredential)
	assert.Equal(t, opts.Limit, got.Limit)
}

func TestSites_CrawlRecord(t *testing.T) {
	s := NewSites(NewMemory())
	ctx := context.Background()

	_, err := s.LoadCrawl(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := CrawlRecord{
		ID:          "job-1",
		Site:        "a.example",
		URL:         "https://a.example/docs",
		Status:      "submitted",
		SubmittedAt: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveCrawl(ctx, rec))

	got, err := s.LoadCrawl(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "a.example", got.Site)
	assert.Equal(t, "https://a.example/docs", got.URL)
	assert.True(t, rec.SubmittedAt.Equal(got.SubmittedAt))
}

func TestSites_CorruptValue(t *testing.T) {
	kv := NewMemory()
	s := NewSites(kv)
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "site:a.example:content", []byte("{not json")))

	_, err := s.LoadBundle(ctx, "a.example")
	assert.Error(t, err)
}
