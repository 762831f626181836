// Package smm implements the provisioning client for SMM reseller panels that
// speak the common "API v2" protocol (form encoded action=add / action=status).
package smm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/seantiz/servicedg/internal/config"
)

// ErrProvider wraps every failure reported by or while reaching the panel.
var ErrProvider = errors.New("provider error")

// Order is the result of a successfully placed order.
type Order struct {
	OrderID string  `json:"order_id"`
	Cost    float64 `json:"cost"`
	Status  string  `json:"status"`
}

// Provisioner places viewer orders and reports their status.
type Provisioner interface {
	PlaceOrder(ctx context.Context, durationID string, count int, link string) (Order, error)
	CheckOrderStatus(ctx context.Context, orderID string) (string, error)
}

// Compile-time interface satisfaction check.
var _ Provisioner = (*Client)(nil)

// Client is a Provisioner backed by a reseller panel HTTP API.
//
// Placing an order is not idempotent: a lost reply to a retried add would
// charge twice. Orders therefore go through a client without retries, while
// status checks use the retrying one.
type Client struct {
	place    *resty.Client
	status   *resty.Client
	apiKey   string
	services map[string]config.ServiceConfig
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewClient creates a panel client from provider configuration.
func NewClient(cfg config.ProviderConfig, logger *slog.Logger) *Client {
	status := newPanelHTTP(cfg, logger).
		SetRetryCount(cfg.Retry.Count).
		SetRetryWaitTime(cfg.Retry.Wait()).
		SetRetryMaxWaitTime(cfg.Retry.MaxWait()).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			if r == nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{
		place:    newPanelHTTP(cfg, logger),
		status:   status,
		apiKey:   cfg.APIKey,
		services: cfg.Services,
		limiter:  rate.NewLimiter(rate.Limit(cfg.QPS), cfg.Burst),
		logger:   logger,
	}
}

func newPanelHTTP(cfg config.ProviderConfig, logger *slog.Logger) *resty.Client {
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout())
	rc.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		logger.Debug("smm request", "method", req.Method, "url", req.URL, "action", req.FormData.Get("action"))
		return nil
	})
	return rc
}

// panelResponse covers the add and status replies of the panel API.
type panelResponse struct {
	Order  json.Number `json:"order"`
	Error  string      `json:"error"`
	Charge string      `json:"charge"`
	Status string      `json:"status"`
}

// PlaceOrder requests count viewers for link using the reseller service
// mapped to durationID. The cost is derived from the configured rate.
func (c *Client) PlaceOrder(ctx context.Context, durationID string, count int, link string) (Order, error) {
	svc, ok := c.services[durationID]
	if !ok {
		return Order{}, fmt.Errorf("%w: no service configured for duration %q", ErrProvider, durationID)
	}

	resp, err := c.call(ctx, c.place, map[string]string{
		"action":   "add",
		"service":  strconv.Itoa(svc.ServiceID),
		"link":     link,
		"quantity": strconv.Itoa(count),
	})
	if err != nil {
		return Order{}, err
	}
	orderID := resp.Order.String()
	if orderID == "" || orderID == "0" {
		return Order{}, fmt.Errorf("%w: panel returned no order id", ErrProvider)
	}

	return Order{
		OrderID: orderID,
		Cost:    Cost(svc.RatePer1000, count),
		Status:  "Pending",
	}, nil
}

// CheckOrderStatus returns the panel's status string for orderID.
func (c *Client) CheckOrderStatus(ctx context.Context, orderID string) (string, error) {
	resp, err := c.call(ctx, c.status, map[string]string{
		"action": "status",
		"order":  orderID,
	})
	if err != nil {
		return "", err
	}
	if resp.Status == "" {
		return "", fmt.Errorf("%w: empty status for order %s", ErrProvider, orderID)
	}
	return resp.Status, nil
}

func (c *Client) call(ctx context.Context, rc *resty.Client, form map[string]string) (panelResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return panelResponse{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	form["key"] = c.apiKey
	resp, err := rc.R().
		SetContext(ctx).
		SetFormData(form).
		Post("")
	if err != nil {
		return panelResponse{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	// Only the final attempt's body is decoded, so a retried failure leaves
	// nothing behind.
	var out panelResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil && !resp.IsError() {
		return panelResponse{}, fmt.Errorf("%w: decode reply: %v", ErrProvider, err)
	}
	if out.Error != "" {
		return panelResponse{}, fmt.Errorf("%w: %s", ErrProvider, out.Error)
	}
	if resp.IsError() {
		return panelResponse{}, fmt.Errorf("%w: http %d", ErrProvider, resp.StatusCode())
	}
	return out, nil
}

// Cost returns the charge for count units at ratePer1000, rounded to cents.
func Cost(ratePer1000 float64, count int) float64 {
	return math.Round(ratePer1000*float64(count)/1000*100) / 100
}

// terminalStatuses are panel statuses after which an order no longer changes.
var terminalStatuses = map[string]bool{
	"completed": true,
	"canceled":  true,
	"cancelled": true,
	"partial":   true,
	"refunded":  true,
}

// IsTerminalStatus reports whether the panel status is final.
func IsTerminalStatus(status string) bool {
	return terminalStatuses[strings.ToLower(strings.TrimSpace(status))]
}
