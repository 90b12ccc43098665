package service

import "errors"

// Service-level error taxonomy. Handlers map these onto HTTP statuses;
// anything not matching is treated as an internal error and never echoed to
// the client verbatim.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrProductNotFound     = errors.New("product not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrPromoNotFound       = errors.New("promocode not found")
	ErrPromoRedeemed       = errors.New("promocode already redeemed")
	ErrVerificationFailed  = errors.New("verification code invalid or expired")

	// ErrProviderFailure wraps any external fulfillment failure so the API
	// layer can answer with a gateway status without leaking transport
	// details it should not rely on.
	ErrProviderFailure = errors.New("fulfillment provider failure")
)
