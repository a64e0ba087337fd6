// Package notion is a small client for the Notion REST API covering collection
// queries and block children listing.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/notion-mirror/internal/metrics"
)

// Defaults applied by New when the matching Config field is zero.
const (
	DefaultBaseURL  = "https://api.notion.com"
	DefaultVersion  = "2022-06-28"
	DefaultPageSize = 100
	DefaultTimeout  = 20 * time.Second
)

const unknownErrorMessage = "Unknown Notion API error"

// RemoteAPIError is returned for any non-2xx response that is not retried.
type RemoteAPIError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("Notion API %d: %s", e.Status, e.Message)
}

// Config controls client behavior.
type Config struct {
	BaseURL    string
	Token      string
	Version    string
	PageSize   int
	Timeout    time.Duration
	Retry      RetryPolicy
	HTTPClient *http.Client
}

// Client talks to the Notion API.
type Client struct {
	baseURL  string
	token    string
	version  string
	pageSize int
	retry    RetryPolicy
	http     *http.Client
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	version := cfg.Version
	if version == "" {
		version = DefaultVersion
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}
	retry := cfg.Retry
	if retry == nil {
		retry = NewLinearRetryPolicy(3, time.Second)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Transport: newHTTPTransport(), Timeout: timeout}
	}
	return &Client{
		baseURL:  baseURL,
		token:    cfg.Token,
		version:  version,
		pageSize: pageSize,
		retry:    retry,
		http:     httpClient,
		logger:   logger.Named("notion"),
		sleep:    sleepContext,
	}
}

// Request performs one API call, retrying rate limited and server error
// responses according to the retry policy. body, when non-nil, is sent as
// JSON; the response is decoded into out when out is non-nil.
func (c *Client) Request(ctx context.Context, method, path string, body, out any) error {
	return c.request(ctx, operationFor(path), method, path, body, out)
}

func (c *Client) request(ctx context.Context, operation, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		status, header, data, err := c.roundTrip(ctx, operation, method, path, payload)
		if err != nil {
			return err
		}
		if status >= 200 && status < 300 {
			if out == nil || len(data) == 0 {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode %s response: %w", operation, err)
			}
			return nil
		}
		if !c.retry.ShouldRetry(status, attempt) {
			return newRemoteAPIError(status, data)
		}

		wait := c.retry.Backoff(attempt, header.Get("Retry-After"))
		metrics.ObserveNotionRetry(operation)
		c.logger.Warn("retrying notion request",
			zap.String("operation", operation),
			zap.Int("status", status),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return fmt.Errorf("wait for retry: %w", err)
		}
	}
}

func (c *Client) roundTrip(
	ctx context.Context,
	operation, method, path string,
	payload []byte,
) (int, http.Header, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.version)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNotionRequest(operation, 0, time.Since(start))
		return 0, nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	metrics.ObserveNotionRequest(operation, resp.StatusCode, time.Since(start))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read %s response: %w", operation, err)
	}
	return resp.StatusCode, resp.Header, data, nil
}

// QueryAllPages returns every record in the collection, following cursors until exhausted.
func (c *Client) QueryAllPages(ctx context.Context, collectionID string) ([]Page, error) {
	path := "/v1/databases/" + url.PathEscape(collectionID) + "/query"
	var (
		pages  []Page
		cursor string
	)
	for {
		var resp listResponse[Page]
		body := queryRequest{PageSize: c.pageSize, StartCursor: cursor}
		if err := c.request(ctx, "query_database", http.MethodPost, path, body, &resp); err != nil {
			return nil, fmt.Errorf("query collection %s: %w", collectionID, err)
		}
		pages = append(pages, resp.Results...)
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			break
		}
		cursor = *resp.NextCursor
	}
	c.logger.Debug("queried collection", zap.String("collection_id", collectionID), zap.Int("pages", len(pages)))
	return pages, nil
}

// GetPageBlocks returns the top-level blocks of a page in order. Toggle blocks
// that report children get them attached; a failed child fetch leaves the
// toggle with no children.
func (c *Client) GetPageBlocks(ctx context.Context, pageID string) ([]Block, error) {
	blocks, err := c.listChildren(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("list blocks of page %s: %w", pageID, err)
	}
	for i := range blocks {
		b := &blocks[i]
		if b.Type != BlockToggle || !b.HasChildren {
			continue
		}
		children, err := c.listChildren(ctx, b.ID)
		if err != nil {
			c.logger.Warn("toggle children unavailable",
				zap.String("page_id", pageID),
				zap.String("block_id", b.ID),
				zap.Error(err),
			)
			b.Children = []Block{}
			continue
		}
		b.Children = children
	}
	return blocks, nil
}

func (c *Client) listChildren(ctx context.Context, blockID string) ([]Block, error) {
	var (
		blocks []Block
		cursor string
	)
	for {
		q := url.Values{}
		q.Set("page_size", fmt.Sprint(c.pageSize))
		if cursor != "" {
			q.Set("start_cursor", cursor)
		}
		path := "/v1/blocks/" + url.PathEscape(blockID) + "/children?" + q.Encode()
		var resp listResponse[Block]
		if err := c.request(ctx, "block_children", http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		blocks = append(blocks, resp.Results...)
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			break
		}
		cursor = *resp.NextCursor
	}
	if blocks == nil {
		blocks = []Block{}
	}
	return blocks, nil
}

func newRemoteAPIError(status int, data []byte) *RemoteAPIError {
	apiErr := &RemoteAPIError{Status: status, Message: unknownErrorMessage}
	var body apiErrorBody
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.Code = body.Code
		if body.Message != "" {
			apiErr.Message = body.Message
		}
	}
	return apiErr
}

func operationFor(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/databases/"):
		return "query_database"
	case strings.HasPrefix(path, "/v1/blocks/"):
		return "block_children"
	default:
		return "request"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
