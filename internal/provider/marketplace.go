package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// MarketplaceClient talks to the generic gifts/top-up marketplace. Auth is a
// bearer token exchanged for the account email + API key, valid for the
// provider-declared lifetime.
type MarketplaceClient struct {
	orders *resty.Client
	status *resty.Client
	email  string
	apiKey string
	tokens *tokenSource
	log    *slog.Logger
}

type MarketplaceConfig struct {
	BaseURL       string
	Email         string
	APIKey        string
	OrderTimeout  time.Duration
	StatusTimeout time.Duration
}

func NewMarketplaceClient(cfg MarketplaceConfig, log *slog.Logger) *MarketplaceClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	c := &MarketplaceClient{
		orders: resty.New().SetBaseURL(base).SetTimeout(cfg.OrderTimeout),
		status: resty.New().SetBaseURL(base).SetTimeout(cfg.StatusTimeout),
		email:  cfg.Email,
		apiKey: cfg.APIKey,
		log:    log,
	}
	c.tokens = newTokenSource(c.fetchToken)
	return c
}

func (c *MarketplaceClient) fetchToken(ctx context.Context) (string, time.Duration, error) {
	var out struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
		Error     string `json:"error"`
	}
	resp, err := c.status.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": c.email, "api_key": c.apiKey}).
		SetResult(&out).
		Post("/api/v2/auth/token")
	if err != nil {
		return "", 0, fmt.Errorf("marketplace auth: %w", err)
	}
	if resp.IsError() || out.Token == "" {
		return "", 0, fmt.Errorf("marketplace auth: status=%d error=%s", resp.StatusCode(), out.Error)
	}
	return out.Token, time.Duration(out.ExpiresIn) * time.Second, nil
}

func (c *MarketplaceClient) CreateOrder(ctx context.Context, req OrderRequest) (*CreateResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"service_id": req.ExternalID,
		"quantity":   req.Quantity,
		"custom_id":  req.CustomID,
	}
	if len(req.Extra) > 0 {
		body["fields"] = req.Extra
	}

	var out struct {
		Success bool   `json:"success"`
		OrderID string `json:"order_id"`
		Error   string `json:"error"`
	}
	resp, err := c.orders.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("/api/v2/orders")
	if err != nil {
		return nil, fmt.Errorf("marketplace create order: %w", err)
	}
	if resp.StatusCode() == 401 {
		c.tokens.Invalidate()
		return nil, fmt.Errorf("marketplace create order: unauthorized")
	}
	if resp.IsError() || !out.Success {
		c.log.Error("marketplace order rejected", "custom_id", req.CustomID, "status", resp.StatusCode(), "error", out.Error)
		return nil, fmt.Errorf("marketplace: %s: %w", messageOr(out.Error, "order rejected"), ErrDeclined)
	}

	return &CreateResult{OrderID: out.OrderID}, nil
}

func (c *MarketplaceClient) PayOrder(ctx context.Context, customID string) (*CreateResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	resp, err := c.orders.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]string{"custom_id": customID}).
		SetResult(&out).
		SetError(&out).
		Post("/api/v2/orders/pay")
	if err != nil {
		// Transport failure: the provider may or may not have settled.
		return nil, fmt.Errorf("marketplace pay order: %w", err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("marketplace pay order: status=%d", resp.StatusCode())
	}
	if resp.IsError() || !out.Success {
		return nil, fmt.Errorf("marketplace: %s: %w", messageOr(out.Error, "payment rejected"), ErrDeclined)
	}
	return &CreateResult{}, nil
}

func (c *MarketplaceClient) OrderStatus(ctx context.Context, customID string) (*OrderStatus, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var out struct {
		Status        int      `json:"status"`
		StatusMessage string   `json:"status_message"`
		Pins          []string `json:"pins"`
		Data          string   `json:"data"`
	}
	resp, err := c.status.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParam("custom_id", customID).
		SetResult(&out).
		Get("/api/v2/orders/status")
	if err != nil {
		return nil, fmt.Errorf("marketplace order status: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("marketplace order status: status=%d", resp.StatusCode())
	}

	return &OrderStatus{
		Code:    out.Status,
		Message: out.StatusMessage,
		Pins:    out.Pins,
		Data:    out.Data,
	}, nil
}

func messageOr(msg, fallback string) string {
	if strings.TrimSpace(msg) != "" {
		return msg
	}
	return fallback
}
