package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// CardgateClient talks to the card payment gateway. Auth is a pre-shared
// shop id + secret pair sent as basic auth; no token handshake. CreateOrder
// yields a hosted payment URL the buyer is redirected to.
type CardgateClient struct {
	orders *resty.Client
	status *resty.Client
	shopID string
	secret string
	log    *slog.Logger
}

type CardgateConfig struct {
	BaseURL       string
	ShopID        string
	SecretKey     string
	OrderTimeout  time.Duration
	StatusTimeout time.Duration
}

func NewCardgateClient(cfg CardgateConfig, log *slog.Logger) *CardgateClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &CardgateClient{
		orders: resty.New().SetBaseURL(base).SetTimeout(cfg.OrderTimeout).SetBasicAuth(cfg.ShopID, cfg.SecretKey),
		status: resty.New().SetBaseURL(base).SetTimeout(cfg.StatusTimeout).SetBasicAuth(cfg.ShopID, cfg.SecretKey),
		shopID: cfg.ShopID,
		secret: cfg.SecretKey,
		log:    log,
	}
}

func (c *CardgateClient) CreateOrder(ctx context.Context, req OrderRequest) (*CreateResult, error) {
	body := map[string]any{
		"service":  req.ExternalID,
		"quantity": req.Quantity,
		"order_id": req.CustomID,
	}
	for k, v := range req.Extra {
		body[k] = v
	}

	var out struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		PaymentURL string `json:"payment_url"`
		Error      string `json:"error"`
	}
	resp, err := c.orders.R().
		SetContext(ctx).
		SetHeader("Idempotence-Key", req.CustomID).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("/api/payments")
	if err != nil {
		return nil, fmt.Errorf("cardgate create payment: %w", err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("cardgate create payment: status=%d", resp.StatusCode())
	}
	if resp.IsError() || out.ID == "" {
		c.log.Error("cardgate payment rejected", "order_id", req.CustomID, "status", resp.StatusCode(), "error", out.Error)
		return nil, fmt.Errorf("cardgate: %s: %w", messageOr(out.Error, "payment rejected"), ErrDeclined)
	}

	return &CreateResult{OrderID: out.ID, PaymentURL: out.PaymentURL}, nil
}

func (c *CardgateClient) PayOrder(ctx context.Context, customID string) (*CreateResult, error) {
	var out struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	resp, err := c.orders.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&out).
		Post("/api/payments/" + customID + "/capture")
	if err != nil {
		return nil, fmt.Errorf("cardgate capture: %w", err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("cardgate capture: status=%d", resp.StatusCode())
	}
	if resp.IsError() || out.Status == "canceled" {
		return nil, fmt.Errorf("cardgate: %s: %w", messageOr(out.Error, "capture rejected"), ErrDeclined)
	}
	return &CreateResult{}, nil
}

func (c *CardgateClient) OrderStatus(ctx context.Context, customID string) (*OrderStatus, error) {
	var out struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	resp, err := c.status.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/payments/" + customID)
	if err != nil {
		return nil, fmt.Errorf("cardgate payment status: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("cardgate payment status: status=%d", resp.StatusCode())
	}

	return &OrderStatus{
		Code:    cardgateStatusCode(out.Status),
		Message: messageOr(out.Error, out.Status),
	}, nil
}

func cardgateStatusCode(status string) int {
	switch strings.ToLower(status) {
	case "succeeded":
		return StatusCompleted
	case "canceled", "failed":
		return StatusFailed
	default:
		return 1
	}
}
