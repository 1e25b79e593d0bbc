// Package hermes publishes crawl and answer lifecycle events over NATS.
package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	SubjectCrawlSubmitted  = "sitechat.crawl.submitted"
	SubjectCrawlProgress   = "sitechat.crawl.progress"
	SubjectCrawlCompleted  = "sitechat.crawl.completed"
	SubjectCrawlFailed     = "sitechat.crawl.failed"
	SubjectAnswerCompleted = "sitechat.answer.completed"
	SubjectHistoryReset    = "sitechat.history.reset"

	SubjectAgentRegistered = "swarm.agent.sitechat.registered"
)

// CrawlEvent is emitted on every observed crawl state change.
type CrawlEvent struct {
	EventID   string    `json:"event_id"`
	CrawlID   string    `json:"crawl_id"`
	Site      string    `json:"site"`
	URL       string    `json:"url,omitempty"`
	Status    string    `json:"status"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Pages     int       `json:"pages,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AnswerEvent is emitted when an answer session ends, whatever the outcome.
// Question and answer text are not included.
type AnswerEvent struct {
	EventID     string    `json:"event_id"`
	Site        string    `json:"site"`
	Outcome     string    `json:"outcome"`
	AnswerChars int       `json:"answer_chars"`
	HistoryLen  int       `json:"history_len"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// HistoryEvent is emitted when a site's conversation is cleared.
type HistoryEvent struct {
	EventID   string    `json:"event_id"`
	Site      string    `json:"site"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEventID returns a fresh event id.
func NewEventID() string {
	return uuid.New().String()
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("sitechat"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Connected reports whether the underlying connection is currently up.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
