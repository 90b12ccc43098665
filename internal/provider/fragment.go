package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// FragmentClient talks to the Telegram resale API (Stars, Premium). The API
// key is exchanged for a short-lived access token; order state comes back as
// strings which are normalized to the shared numeric codes here.
type FragmentClient struct {
	orders *resty.Client
	status *resty.Client
	apiKey string
	tokens *tokenSource
	log    *slog.Logger
}

type FragmentConfig struct {
	BaseURL       string
	APIKey        string
	OrderTimeout  time.Duration
	StatusTimeout time.Duration
}

func NewFragmentClient(cfg FragmentConfig, log *slog.Logger) *FragmentClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	c := &FragmentClient{
		orders: resty.New().SetBaseURL(base).SetTimeout(cfg.OrderTimeout),
		status: resty.New().SetBaseURL(base).SetTimeout(cfg.StatusTimeout),
		apiKey: cfg.APIKey,
		log:    log,
	}
	c.tokens = newTokenSource(c.fetchToken)
	return c
}

func (c *FragmentClient) fetchToken(ctx context.Context) (string, time.Duration, error) {
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		Message     string `json:"message"`
	}
	resp, err := c.status.R().
		SetContext(ctx).
		SetHeader("X-Api-Key", c.apiKey).
		SetResult(&out).
		Post("/api/v1/auth/token")
	if err != nil {
		return "", 0, fmt.Errorf("fragment auth: %w", err)
	}
	if resp.IsError() || out.AccessToken == "" {
		return "", 0, fmt.Errorf("fragment auth: status=%d message=%s", resp.StatusCode(), out.Message)
	}
	return out.AccessToken, time.Duration(out.ExpiresIn) * time.Second, nil
}

func (c *FragmentClient) CreateOrder(ctx context.Context, req OrderRequest) (*CreateResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"product":  req.ExternalID,
		"quantity": req.Quantity,
		"ref":      req.CustomID,
	}
	// Telegram username or recipient handle travels in extra fields.
	for k, v := range req.Extra {
		body[k] = v
	}

	var out struct {
		OK      bool   `json:"ok"`
		OrderID string `json:"order_id"`
		Message string `json:"message"`
	}
	resp, err := c.orders.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("/api/v1/orders")
	if err != nil {
		return nil, fmt.Errorf("fragment create order: %w", err)
	}
	if resp.StatusCode() == 401 {
		c.tokens.Invalidate()
		return nil, fmt.Errorf("fragment create order: unauthorized")
	}
	if resp.IsError() || !out.OK {
		c.log.Error("fragment order rejected", "ref", req.CustomID, "status", resp.StatusCode(), "message", out.Message)
		return nil, fmt.Errorf("fragment: %s: %w", messageOr(out.Message, "order rejected"), ErrDeclined)
	}

	return &CreateResult{OrderID: out.OrderID}, nil
}

func (c *FragmentClient) PayOrder(ctx context.Context, customID string) (*CreateResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var out struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
	}
	resp, err := c.orders.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&out).
		SetError(&out).
		Post("/api/v1/orders/" + customID + "/confirm")
	if err != nil {
		return nil, fmt.Errorf("fragment pay order: %w", err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("fragment pay order: status=%d", resp.StatusCode())
	}
	if resp.IsError() || !out.OK {
		return nil, fmt.Errorf("fragment: %s: %w", messageOr(out.Message, "payment rejected"), ErrDeclined)
	}
	return &CreateResult{}, nil
}

func (c *FragmentClient) OrderStatus(ctx context.Context, customID string) (*OrderStatus, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var out struct {
		State   string `json:"state"`
		Message string `json:"message"`
	}
	resp, err := c.status.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&out).
		Get("/api/v1/orders/" + customID)
	if err != nil {
		return nil, fmt.Errorf("fragment order status: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fragment order status: status=%d", resp.StatusCode())
	}

	return &OrderStatus{
		Code:    fragmentStateCode(out.State),
		Message: messageOr(out.Message, out.State),
	}, nil
}

func fragmentStateCode(state string) int {
	switch strings.ToLower(state) {
	case "completed", "delivered":
		return StatusCompleted
	case "failed", "declined", "cancelled":
		return StatusFailed
	default:
		return 1
	}
}
