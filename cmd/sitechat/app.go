package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/sitechat/internal/answer"
	"github.com/MikeSquared-Agency/sitechat/internal/config"
	"github.com/MikeSquared-Agency/sitechat/internal/conversation"
	"github.com/MikeSquared-Agency/sitechat/internal/crawl"
	"github.com/MikeSquared-Agency/sitechat/internal/firecrawl"
	"github.com/MikeSquared-Agency/sitechat/internal/hermes"
	"github.com/MikeSquared-Agency/sitechat/internal/metrics"
	"github.com/MikeSquared-Agency/sitechat/internal/openai"
	"github.com/MikeSquared-Agency/sitechat/internal/orchestrator"
	"github.com/MikeSquared-Agency/sitechat/internal/store"
)

// app holds everything a command needs. close releases it in reverse order.
type app struct {
	svc    *orchestrator.Service
	hermes *hermes.Client
	kv     store.KV
}

func newApp(ctx context.Context, cfg config.Config, m *metrics.Metrics, withEvents bool) (*app, error) {
	logger := slog.Default()

	opts, err := config.LoadOptions(cfg.OptionsFile)
	if err != nil {
		return nil, err
	}

	kv, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	if cfg.StoreBackend == "" || cfg.StoreBackend == "memory" {
		logger.Warn("using in-memory store, crawled content will not survive a restart")
	} else {
		logger.Info("store connected", "backend", cfg.StoreBackend)
	}

	a := &app{kv: kv}

	var publisher orchestrator.Publisher
	if withEvents && cfg.NatsURL != "" {
		hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			kv.Close()
			return nil, err
		}
		a.hermes = hc
		publisher = hc
		logger.Info("NATS connected", "url", cfg.NatsURL)
	} else if withEvents {
		logger.Warn("NATS not configured, lifecycle events are disabled")
	}

	history := conversation.NewStore()

	fc := firecrawl.NewClient(cfg.FirecrawlURL)
	llm := openai.NewClient(cfg.OpenAIURL)

	a.svc = orchestrator.New(orchestrator.Deps{
		Crawler:         crawl.NewClient(fc, m, logger),
		Answerer:        answer.New(llm, history, m, logger),
		History:         history,
		Sites:           store.NewSites(kv),
		BaseOptions:     opts,
		Publisher:       publisher,
		PollInterval:    cfg.PollInterval,
		MaxPollFailures: cfg.MaxPollFailures,
		Logger:          logger,
	})
	return a, nil
}

func (a *app) close() {
	a.svc.Close()
	if a.hermes != nil {
		a.hermes.Close()
	}
	if err := a.kv.Close(); err != nil {
		slog.Warn("failed to close store", "error", err)
	}
}
