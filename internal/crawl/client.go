// Package crawl submits crawl jobs and translates their upstream status into
// a small state machine. It performs single queries only; how often to poll
// is up to the caller.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/MikeSquared-Agency/sitechat/internal/config"
	"github.com/MikeSquared-Agency/sitechat/internal/domain"
	"github.com/MikeSquared-Agency/sitechat/internal/firecrawl"
	"github.com/MikeSquared-Agency/sitechat/internal/metrics"
)

// API is the crawl service the client talks to.
type API interface {
	StartCrawl(ctx context.Context, apiKey string, req firecrawl.CrawlRequest) (string, error)
	CrawlStatus(ctx context.Context, apiKey, id string) (*firecrawl.StatusResponse, error)
}

type Client struct {
	api     API
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewClient(api API, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{api: api, metrics: m, logger: logger}
}

const (
	msgMissingKey   = "Firecrawl API key not set. Please set it in the settings."
	msgSubmitFailed = "Failed to start crawl. Please check your API key and URL."
	msgUnknown      = "Unknown crawl status."
)

// Submit starts a crawl of rawURL.
func (c *Client) Submit(ctx context.Context, rawURL string, opts config.Options) (State, error) {
	if opts.CrawlCredential == "" {
		return State{}, domain.Missing("crawlCredential", msgMissingKey)
	}
	opts = opts.WithDefaults()

	id, err := c.api.StartCrawl(ctx, opts.CrawlCredential, firecrawl.CrawlRequest{
		URL: rawURL,
		ScrapeOptions: firecrawl.ScrapeOptions{
			Formats: []string{"markdown"},
			WaitFor: opts.WaitForMs,
			Timeout: opts.TimeoutMs,
		},
		Limit:              opts.Limit,
		AllowBackwardLinks: opts.BackwardLinks(),
		MaxDepth:           opts.MaxDepth,
	})
	if err != nil {
		c.metrics.CrawlSubmitted("error")
		return State{}, domain.Wrap(domain.KindSubmissionFailed, submitMessage(err), err)
	}

	c.metrics.CrawlSubmitted("ok")
	c.logger.Info("crawl submitted", "crawl_id", id, "url", rawURL, "limit", opts.Limit, "max_depth", opts.MaxDepth)
	return State{ID: id, Status: StatusSubmitted}, nil
}

// Poll queries the job once. A transport failure returns an error and no
// state; an unrecognised upstream status yields a failed state whose Err has
// kind UnknownStatus.
func (c *Client) Poll(ctx context.Context, id string, opts config.Options) (State, error) {
	if opts.CrawlCredential == "" {
		return State{}, domain.Missing("crawlCredential", msgMissingKey)
	}

	sr, err := c.api.CrawlStatus(ctx, opts.CrawlCredential, id)
	if err != nil {
		c.metrics.CrawlPolled("transport_error")
		var apiErr *firecrawl.APIError
		msg := ""
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return State{}, domain.Wrap(domain.KindTransportError, msg, fmt.Errorf("poll crawl %s: %w", id, err))
	}

	var st State
	switch sr.Status {
	case string(StatusCompleted):
		st = State{ID: id, Status: StatusCompleted, Completed: sr.Completed, Total: sr.Total, Pages: toBundle(sr.Data)}
	case string(StatusScraping):
		st = State{ID: id, Status: StatusScraping, Completed: sr.Completed, Total: sr.Total}
	default:
		st = State{
			ID:     id,
			Status: StatusFailed,
			Err:    domain.Wrap(domain.KindUnknownStatus, msgUnknown, fmt.Errorf("upstream status %q: %s", sr.Status, sr.Error)),
		}
	}

	c.metrics.CrawlPolled(string(st.Status))
	c.logger.Debug("crawl polled", "crawl_id", id, "status", st.Status, "completed", st.Completed, "total", st.Total)
	return st, nil
}

// SiteOf returns the site identity (host name) of a crawlable URL.
func SiteOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return u.Hostname(), nil
}

func toBundle(data []firecrawl.PageData) domain.Bundle {
	pages := make(domain.Bundle, 0, len(data))
	for _, d := range data {
		pages = append(pages, domain.Page{
			Title:     d.Metadata.Title,
			SourceURL: d.Metadata.SourceURL,
			Markdown:  d.Markdown,
		})
	}
	return pages
}

func submitMessage(err error) string {
	var apiErr *firecrawl.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return msgSubmitFailed
	}
	return err.Error()
}
