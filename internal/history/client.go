// Package history forwards operation results to a remote operations history
// API. Delivery is best effort: failures are logged and never propagated.
package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"

	"github.com/seantiz/servicedg/internal/config"
	"github.com/seantiz/servicedg/internal/model"
)

// UserHeader carries the authenticated user id on history requests.
const UserHeader = "X-User-Id"

// Path is the operations history collection endpoint.
const Path = "/v1/operations-history"

// Recorder accepts operation results for durable server side storage.
type Recorder interface {
	Record(ctx context.Context, entry model.HistoryEntry)
}

// Client posts history entries to a remote operations history API.
type Client struct {
	http   *resty.Client
	userID string
	logger *slog.Logger
}

// Compile-time interface satisfaction check.
var _ Recorder = (*Client)(nil)

// NewClient returns a client for cfg, or nil when no base URL is configured.
func NewClient(cfg config.HistoryConfig, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		return nil
	}
	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout()).
			SetHeader("Content-Type", "application/json"),
		userID: cfg.UserID,
		logger: logger,
	}
}

// Record posts entry on behalf of the configured user. Errors are logged.
func (c *Client) Record(ctx context.Context, entry model.HistoryEntry) {
	if c == nil {
		return
	}
	if err := c.post(ctx, entry); err != nil {
		c.logger.Warn("operations history unreachable",
			"block_id", entry.BlockID,
			"order_id", entry.OrderID,
			"error", err,
		)
	}
}

func (c *Client) post(ctx context.Context, entry model.HistoryEntry) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(UserHeader, c.userID).
		SetBody(entry).
		Post(Path)
	if err != nil {
		return fmt.Errorf("post history entry: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("post history entry: http %d", resp.StatusCode())
	}
	return nil
}

// Nop discards every entry.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, model.HistoryEntry) {}
