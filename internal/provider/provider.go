// Package provider normalizes the three external fulfillment APIs (gifts
// marketplace, Telegram resale, card payment gateway) behind one
// create -> pay -> poll shape.
package provider

import (
	"context"
	"errors"
	"fmt"
)

const (
	Marketplace = "marketplace"
	Fragment    = "fragment"
	Cardgate    = "cardgate"
)

// Normalized order status codes. Anything else means the order is still in
// flight on the provider side.
const (
	StatusCompleted = 2
	StatusFailed    = 3
)

// ErrDeclined marks a confirmed provider-side rejection, as opposed to a
// transport failure where the provider's state is unknown. Callers use this
// distinction to decide whether a refund is safe.
var ErrDeclined = errors.New("provider declined")

type OrderRequest struct {
	ExternalID string
	Quantity   int
	CustomID   string
	Extra      map[string]string
}

type CreateResult struct {
	OrderID    string
	PaymentURL string
}

type OrderStatus struct {
	Code    int
	Message string
	Pins    []string
	Data    string
}

// Gateway is the uniform capability the order orchestrator sees. PayOrder is
// not guaranteed idempotent on the provider side and must not be retried
// blindly.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*CreateResult, error)
	PayOrder(ctx context.Context, customID string) (*CreateResult, error)
	OrderStatus(ctx context.Context, customID string) (*OrderStatus, error)
}

// Registry resolves a gateway by the provider name stored on a product.
type Registry map[string]Gateway

func (r Registry) Gateway(name string) (Gateway, error) {
	gw, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return gw, nil
}
