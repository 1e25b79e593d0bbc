package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.firecrawl.dev"

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// SetTestTransport points the client at a test server.
func (c *Client) SetTestTransport(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

type ScrapeOptions struct {
	Formats []string `json:"formats"`
	WaitFor int      `json:"waitFor"`
	Timeout int      `json:"timeout"`
}

type CrawlRequest struct {
	URL                string        `json:"url"`
	ScrapeOptions      ScrapeOptions `json:"scrapeOptions"`
	Limit              int           `json:"limit"`
	AllowBackwardLinks bool          `json:"allowBackwardLinks"`
	MaxDepth           int           `json:"maxDepth"`
}

type crawlResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Error   string `json:"error,omitempty"`
}

type PageMetadata struct {
	Title     string `json:"title"`
	SourceURL string `json:"sourceURL"`
}

type PageData struct {
	Markdown string       `json:"markdown"`
	Metadata PageMetadata `json:"metadata"`
}

type StatusResponse struct {
	Status    string     `json:"status"`
	Total     int        `json:"total"`
	Completed int        `json:"completed"`
	Data      []PageData `json:"data"`
	Error     string     `json:"error,omitempty"`
}

// APIError is a response the crawl API did not accept.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("firecrawl error %d: %s", e.StatusCode, e.Message)
}

// StartCrawl submits a crawl and returns its job id.
func (c *Client) StartCrawl(ctx context.Context, apiKey string, reqBody CrawlRequest) (string, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal crawl request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/crawl", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	respBody, status, err := c.do(req)
	if err != nil {
		return "", err
	}

	var cr crawlResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		if status < 200 || status > 299 {
			return "", &APIError{StatusCode: status, Message: strings.TrimSpace(string(respBody))}
		}
		return "", fmt.Errorf("parse crawl response: %w", err)
	}
	if status < 200 || status > 299 || !cr.Success || cr.ID == "" {
		return "", &APIError{StatusCode: status, Message: cr.Error}
	}
	return cr.ID, nil
}

// CrawlStatus fetches the current state of a crawl job.
func (c *Client) CrawlStatus(ctx context.Context, apiKey, id string) (*StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/crawl/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	respBody, status, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var sr StatusResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		if status < 200 || status > 299 {
			return nil, &APIError{StatusCode: status, Message: strings.TrimSpace(string(respBody))}
		}
		return nil, fmt.Errorf("parse status response: %w", err)
	}
	if status < 200 || status > 299 {
		return nil, &APIError{StatusCode: status, Message: sr.Error}
	}
	return &sr, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("firecrawl call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}
