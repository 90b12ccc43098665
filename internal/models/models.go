package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuthType string

const (
	AuthTelegram AuthType = "telegram"
	AuthPhone    AuthType = "phone"
	AuthEmail    AuthType = "email"
)

type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionPurchase   TransactionType = "purchase"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionCancelled TransactionStatus = "cancelled"
)

type PurchaseStatus string

const (
	PurchasePending PurchaseStatus = "pending"
	// PurchaseProcessing marks an order claimed by a payment attempt so the
	// provider's non-idempotent pay call runs at most once per order.
	PurchaseProcessing PurchaseStatus = "processing"
	PurchaseCompleted  PurchaseStatus = "completed"
	PurchaseFailed     PurchaseStatus = "failed"
)

type PromocodeType string

const (
	PromocodeBalance  PromocodeType = "balance"
	PromocodeDiscount PromocodeType = "discount"
)

type User struct {
	ID                  int64
	TelegramID          *int64
	Username            string
	Email               string
	Phone               string
	Balance             decimal.Decimal
	TotalSpent          decimal.Decimal
	AuthType            AuthType
	PWAInstructionShown bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PaymentDetails is the typed shape persisted into transactions.payment_details.
// CustomID links a transaction to its purchase and to the provider-side order.
type PaymentDetails struct {
	CustomID          string          `json:"custom_id,omitempty"`
	Pins              []string        `json:"pins,omitempty"`
	Data              string          `json:"data,omitempty"`
	OriginalUSDAmount decimal.Decimal `json:"original_usd_amount,omitempty"`
	Note              string          `json:"note,omitempty"`
}

type Transaction struct {
	ID            int64
	UserID        int64
	Amount        decimal.Decimal
	Type          TransactionType
	Status        TransactionStatus
	PaymentMethod string
	Details       PaymentDetails
	CreatedAt     time.Time
}

type Purchase struct {
	ID           int64
	UserID       int64
	ServiceID    int64
	ServiceName  string
	Quantity     int
	Amount       decimal.Decimal // USD equivalent charged against the balance
	TotalPrice   decimal.Decimal // price in the service's native currency
	Currency     string
	Status       PurchaseStatus
	CustomID     string
	PurchaseDate time.Time
	CreatedAt    time.Time
}

type Promocode struct {
	ID        int64
	Code      string
	Type      PromocodeType
	Value     decimal.Decimal // USD amount for balance type, percent 0-100 for discount type
	IsActive  bool
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PromocodeUsage struct {
	ID          int64
	PromocodeID int64
	UserID      int64
	UsedAt      time.Time
}

// Product is a catalog entry the storefront sells. ExternalID is the
// provider-side service identifier used when creating external orders.
type Product struct {
	ID         int64
	Name       string
	Provider   string
	ExternalID string
	Price      decimal.Decimal
	Currency   string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type VerificationCode struct {
	ID         int64
	Identifier string
	Code       string
	Type       AuthType
	ExpiresAt  time.Time
	CreatedAt  time.Time
}
