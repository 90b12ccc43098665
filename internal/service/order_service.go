package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digkill/giftstore/internal/models"
	"github.com/digkill/giftstore/internal/money"
	"github.com/digkill/giftstore/internal/provider"
	"github.com/digkill/giftstore/internal/repository"
)

// Ledger is the slice of the ledger store the orchestrator needs. Every
// method is an atomic unit on the repository side.
type Ledger interface {
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	Credit(ctx context.Context, userID int64, amount decimal.Decimal, method string, details models.PaymentDetails) error
	Debit(ctx context.Context, userID int64, amount decimal.Decimal, method string, details models.PaymentDetails) error
	DebitForPurchase(ctx context.Context, p *models.Purchase, method string, details models.PaymentDetails) error
	RecordPurchase(ctx context.Context, p *models.Purchase, method string, details models.PaymentDetails) error
	UpdatePurchaseStatus(ctx context.Context, customID string, status models.PurchaseStatus, pins []string, data string) error
	GetPurchaseByCustomID(ctx context.Context, customID string) (*models.Purchase, error)
	ClaimPurchase(ctx context.Context, customID string) (bool, error)
	FailPurchase(ctx context.Context, customID string) (bool, error)
	RefundPurchase(ctx context.Context, p *models.Purchase, details models.PaymentDetails) (bool, error)
}

type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
}

type RateSource interface {
	USDToRubRate(ctx context.Context) (decimal.Decimal, error)
}

// DiscountEngine is the promocode capability checkout needs.
type DiscountEngine interface {
	ActiveDiscount(ctx context.Context, userID int64) (*models.Promocode, error)
	RevokeDiscountUsage(ctx context.Context, userID, promocodeID int64) error
}

type GatewayResolver interface {
	Gateway(name string) (provider.Gateway, error)
}

// Notifier delivers best-effort user notifications; failures are logged, not
// propagated.
type Notifier interface {
	OrderCompleted(ctx context.Context, userID int64, p *models.Purchase)
}

const paymentMethodBalance = "balance"

type CreateOrderCommand struct {
	UserID    int64
	ProductID int64
	Quantity  int
	Extra     map[string]string
}

type CheckoutItem struct {
	ProductID int64
	Quantity  int
	Extra     map[string]string
}

type CheckoutCommand struct {
	UserID int64
	Items  []CheckoutItem
}

type OrderResult struct {
	CustomID   string
	Status     models.PurchaseStatus
	Message    string
	PaymentURL string
	Pins       []string
	Data       string
	ChargedUSD decimal.Decimal
	Balance    decimal.Decimal
}

type CheckoutItemResult struct {
	ProductID   int64
	ServiceName string
	CustomID    string
	Success     bool
	Status      models.PurchaseStatus
	Message     string
	Pins        []string
	Data        string
}

type CheckoutResult struct {
	Items          []CheckoutItemResult
	Processed      int
	Failed         int
	OriginalTotal  decimal.Decimal
	DiscountAmount decimal.Decimal
	ChargedTotal   decimal.Decimal
	RefundedTotal  decimal.Decimal
	Balance        decimal.Decimal
}

// OrderService sequences balance checks, external order creation, payment and
// status reconciliation so that money is only taken after the provider has
// accepted an order, and refunded when fulfillment demonstrably fails.
type OrderService struct {
	ledger    Ledger
	catalog   Catalog
	rates     RateSource
	discounts DiscountEngine
	gateways  GatewayResolver
	notifier  Notifier
	log       *slog.Logger
}

func NewOrderService(ledger Ledger, catalog Catalog, rates RateSource, discounts DiscountEngine, gateways GatewayResolver, notifier Notifier, log *slog.Logger) *OrderService {
	return &OrderService{
		ledger:    ledger,
		catalog:   catalog,
		rates:     rates,
		discounts: discounts,
		gateways:  gateways,
		notifier:  notifier,
		log:       log,
	}
}

// CreateOrder runs the single-item path up to the debit: price resolution,
// balance check, external order creation, then the conditional debit bundled
// with the pending purchase record. The debit happens strictly after the
// provider accepts the order.
func (s *OrderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*OrderResult, error) {
	if cmd.Quantity < 1 {
		return nil, fmt.Errorf("quantity must be at least 1: %w", ErrInvalidInput)
	}

	product, err := s.catalog.GetProduct(ctx, cmd.ProductID)
	if err != nil {
		return nil, fmt.Errorf("resolve product: %w", err)
	}
	if product == nil || !product.IsActive {
		return nil, ErrProductNotFound
	}

	gw, err := s.gateways.Gateway(product.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolve gateway: %w", err)
	}

	nativeTotal := money.New(product.Price, product.Currency).MulInt(cmd.Quantity)
	requiredUSD, err := s.toUSD(ctx, nativeTotal)
	if err != nil {
		return nil, err
	}

	balance, err := s.ledger.GetBalance(ctx, cmd.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if balance.LessThan(requiredUSD.Amount) {
		return nil, ErrInsufficientBalance
	}

	customID := uuid.NewString()
	purchase := &models.Purchase{
		UserID:      cmd.UserID,
		ServiceID:   product.ID,
		ServiceName: product.Name,
		Quantity:    cmd.Quantity,
		Amount:      requiredUSD.Amount,
		TotalPrice:  nativeTotal.Amount,
		Currency:    nativeTotal.Currency,
		CustomID:    customID,
	}
	details := models.PaymentDetails{OriginalUSDAmount: requiredUSD.Amount}

	created, err := gw.CreateOrder(ctx, provider.OrderRequest{
		ExternalID: product.ExternalID,
		Quantity:   cmd.Quantity,
		CustomID:   customID,
		Extra:      cmd.Extra,
	})
	if err != nil {
		// No money moved; keep a failed record for audit.
		s.recordFailedAttempt(ctx, purchase, details, err)
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	if err := s.ledger.DebitForPurchase(ctx, purchase, paymentMethodBalance, details); err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			// A concurrent debit won the race after the balance check. The
			// external order is already accepted but unpaid; record the
			// attempt and bail out.
			s.recordFailedAttempt(ctx, purchase, details, err)
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("debit for purchase: %w", err)
	}

	return &OrderResult{
		CustomID:   customID,
		Status:     models.PurchasePending,
		PaymentURL: created.PaymentURL,
		ChargedUSD: requiredUSD.Amount,
		Balance:    balance.Sub(requiredUSD.Amount),
	}, nil
}

// PayOrder executes the provider payment for a pending purchase and
// reconciles the result. A confirmed provider decline refunds the debit and
// fails the purchase; an ambiguous transport failure leaves the purchase
// pending and the debit in place for manual reconciliation.
func (s *OrderService) PayOrder(ctx context.Context, userID int64, customID string) (*OrderResult, error) {
	purchase, err := s.ledger.GetPurchaseByCustomID(ctx, customID)
	if err != nil {
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	if purchase == nil || purchase.UserID != userID {
		return nil, ErrOrderNotFound
	}
	if purchase.Status != models.PurchasePending {
		return nil, fmt.Errorf("order already %s: %w", purchase.Status, ErrInvalidInput)
	}

	product, err := s.catalog.GetProduct(ctx, purchase.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("resolve product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}
	gw, err := s.gateways.Gateway(product.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolve gateway: %w", err)
	}

	// The provider's pay call is not idempotent, so the order is claimed
	// atomically before any external call. Exactly one concurrent payment
	// attempt proceeds; losers stop here without touching the provider or
	// the balance.
	claimed, err := s.ledger.ClaimPurchase(ctx, customID)
	if err != nil {
		return nil, fmt.Errorf("claim purchase: %w", err)
	}
	if !claimed {
		return nil, fmt.Errorf("order payment already in progress: %w", ErrInvalidInput)
	}
	purchase.Status = models.PurchaseProcessing

	if _, err := gw.PayOrder(ctx, customID); err != nil {
		if errors.Is(err, provider.ErrDeclined) {
			s.refundPurchase(ctx, purchase, "payment declined")
			return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
		}
		s.log.Error("ambiguous payment failure, leaving order for reconciliation",
			"custom_id", customID, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	status, err := gw.OrderStatus(ctx, customID)
	if err != nil {
		s.log.Error("status poll failed after payment, leaving order for reconciliation",
			"custom_id", customID, "err", err)
		return &OrderResult{
			CustomID: customID,
			Status:   models.PurchaseProcessing,
			Message:  "payment accepted, awaiting confirmation",
		}, nil
	}

	return s.reconcile(ctx, purchase, status)
}

func (s *OrderService) reconcile(ctx context.Context, purchase *models.Purchase, status *provider.OrderStatus) (*OrderResult, error) {
	result := &OrderResult{
		CustomID: purchase.CustomID,
		Message:  status.Message,
		Pins:     status.Pins,
		Data:     status.Data,
	}

	switch mapProviderStatus(status.Code) {
	case models.PurchaseCompleted:
		if err := s.ledger.UpdatePurchaseStatus(ctx, purchase.CustomID, models.PurchaseCompleted, status.Pins, status.Data); err != nil {
			return nil, fmt.Errorf("complete purchase: %w", err)
		}
		result.Status = models.PurchaseCompleted
		if s.notifier != nil {
			s.notifier.OrderCompleted(ctx, purchase.UserID, purchase)
		}
	case models.PurchaseFailed:
		s.refundPurchase(ctx, purchase, status.Message)
		result.Status = models.PurchaseFailed
	default:
		result.Status = purchase.Status
	}

	if balance, err := s.ledger.GetBalance(ctx, purchase.UserID); err == nil {
		result.Balance = balance
	}
	return result, nil
}

// GetOrder returns the stored purchase for the user, refreshed against the
// provider when it is still pending.
func (s *OrderService) GetOrder(ctx context.Context, userID int64, customID string) (*OrderResult, error) {
	purchase, err := s.ledger.GetPurchaseByCustomID(ctx, customID)
	if err != nil {
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	if purchase == nil || purchase.UserID != userID {
		return nil, ErrOrderNotFound
	}

	if purchase.Status != models.PurchasePending && purchase.Status != models.PurchaseProcessing {
		return &OrderResult{
			CustomID:   purchase.CustomID,
			Status:     purchase.Status,
			ChargedUSD: purchase.Amount,
		}, nil
	}

	product, err := s.catalog.GetProduct(ctx, purchase.ServiceID)
	if err != nil || product == nil {
		return &OrderResult{CustomID: purchase.CustomID, Status: purchase.Status}, nil
	}
	gw, err := s.gateways.Gateway(product.Provider)
	if err != nil {
		return &OrderResult{CustomID: purchase.CustomID, Status: purchase.Status}, nil
	}
	status, err := gw.OrderStatus(ctx, customID)
	if err != nil {
		// Provider unreachable; report the stored state.
		return &OrderResult{CustomID: purchase.CustomID, Status: purchase.Status}, nil
	}
	return s.reconcile(ctx, purchase, status)
}

// Checkout batches several purchases against one up-front debit with
// per-item external calls and compensating refunds for items that
// demonstrably failed.
func (s *OrderService) Checkout(ctx context.Context, cmd CheckoutCommand) (*CheckoutResult, error) {
	if len(cmd.Items) == 0 {
		return nil, fmt.Errorf("empty checkout: %w", ErrInvalidInput)
	}

	type resolvedItem struct {
		product     *models.Product
		quantity    int
		extra       map[string]string
		nativeTotal money.Money
		usdTotal    money.Money
		chargedUSD  money.Money
	}

	items := make([]resolvedItem, 0, len(cmd.Items))
	originalTotal := decimal.Zero
	for _, item := range cmd.Items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("quantity must be at least 1: %w", ErrInvalidInput)
		}
		product, err := s.catalog.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("resolve product: %w", err)
		}
		if product == nil || !product.IsActive {
			return nil, ErrProductNotFound
		}
		if _, err := s.gateways.Gateway(product.Provider); err != nil {
			return nil, fmt.Errorf("resolve gateway: %w", err)
		}

		nativeTotal := money.New(product.Price, product.Currency).MulInt(item.Quantity)
		usdTotal, err := s.toUSD(ctx, nativeTotal)
		if err != nil {
			return nil, err
		}
		items = append(items, resolvedItem{
			product:     product,
			quantity:    item.Quantity,
			extra:       item.Extra,
			nativeTotal: nativeTotal,
			usdTotal:    usdTotal,
		})
		originalTotal = originalTotal.Add(usdTotal.Amount)
	}

	promo, err := s.discounts.ActiveDiscount(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("get active discount: %w", err)
	}

	discountPct := decimal.Zero
	if promo != nil {
		discountPct = promo.Value
	}
	chargedTotal, discountAmount := money.New(originalTotal, money.USD).ApplyDiscount(discountPct)
	// Per-item rounding must reconcile with the batch total: the last item
	// absorbs the rounding remainder so the refundable amounts always sum to
	// exactly what was debited.
	remaining := chargedTotal.Amount
	for i := range items {
		if i == len(items)-1 {
			items[i].chargedUSD = money.New(remaining, money.USD)
			break
		}
		discounted, _ := items[i].usdTotal.ApplyDiscount(discountPct)
		items[i].chargedUSD = discounted
		remaining = remaining.Sub(discounted.Amount)
	}

	balance, err := s.ledger.GetBalance(ctx, cmd.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if balance.LessThan(chargedTotal.Amount) {
		return nil, ErrInsufficientBalance
	}

	batchID := uuid.NewString()
	debitDetails := models.PaymentDetails{CustomID: batchID, Note: "checkout"}
	if err := s.ledger.Debit(ctx, cmd.UserID, chargedTotal.Amount, paymentMethodBalance, debitDetails); err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("debit checkout total: %w", err)
	}

	result := &CheckoutResult{
		OriginalTotal:  originalTotal,
		DiscountAmount: discountAmount.Amount,
		ChargedTotal:   chargedTotal.Amount,
	}
	refundTotal := decimal.Zero
	anySuccess := false

	for _, item := range items {
		itemResult, refundable := s.processCheckoutItem(ctx, cmd.UserID, item.product, item.quantity, item.extra, item.nativeTotal, item.chargedUSD)
		result.Items = append(result.Items, itemResult)
		result.Processed++
		if itemResult.Status == models.PurchaseFailed {
			result.Failed++
		}
		// Only failures this request settled itself are refunded here; a
		// concurrently settled item has already been compensated by whoever
		// won its transition.
		if refundable {
			refundTotal = refundTotal.Add(item.chargedUSD.Amount)
		}
		if itemResult.Success {
			anySuccess = true
		}
	}

	if refundTotal.IsPositive() {
		refundDetails := models.PaymentDetails{CustomID: batchID, Note: "checkout refund"}
		if err := s.ledger.Credit(ctx, cmd.UserID, refundTotal, "refund", refundDetails); err != nil {
			// The items are already settled; surface the refund failure.
			return nil, fmt.Errorf("refund failed items: %w", err)
		}
		result.RefundedTotal = refundTotal
	}

	if anySuccess && promo != nil {
		if err := s.discounts.RevokeDiscountUsage(ctx, cmd.UserID, promo.ID); err != nil {
			s.log.Error("revoke discount usage", "user_id", cmd.UserID, "promocode_id", promo.ID, "err", err)
		}
	}

	if finalBalance, err := s.ledger.GetBalance(ctx, cmd.UserID); err == nil {
		result.Balance = finalBalance
	}
	return result, nil
}

// processCheckoutItem runs one item end to end and reports whether this
// request owns the failure and must refund it. Items are recorded already in
// processing state so a concurrent payment attempt against the same custom id
// cannot claim them; ambiguous outcomes stay unrefunded until reconciliation.
func (s *OrderService) processCheckoutItem(ctx context.Context, userID int64, product *models.Product, quantity int, extra map[string]string, nativeTotal, chargedUSD money.Money) (CheckoutItemResult, bool) {
	customID := uuid.NewString()
	itemResult := CheckoutItemResult{
		ProductID:   product.ID,
		ServiceName: product.Name,
		CustomID:    customID,
	}

	purchase := &models.Purchase{
		UserID:      userID,
		ServiceID:   product.ID,
		ServiceName: product.Name,
		Quantity:    quantity,
		Amount:      chargedUSD.Amount,
		TotalPrice:  nativeTotal.Amount,
		Currency:    nativeTotal.Currency,
		Status:      models.PurchaseProcessing,
		CustomID:    customID,
	}
	details := models.PaymentDetails{OriginalUSDAmount: chargedUSD.Amount}

	gw, err := s.gateways.Gateway(product.Provider)
	if err != nil {
		itemResult.Status = models.PurchaseFailed
		itemResult.Message = err.Error()
		s.recordFailedAttempt(ctx, purchase, details, err)
		return itemResult, true
	}

	if _, err := gw.CreateOrder(ctx, provider.OrderRequest{
		ExternalID: product.ExternalID,
		Quantity:   quantity,
		CustomID:   customID,
		Extra:      extra,
	}); err != nil {
		itemResult.Status = models.PurchaseFailed
		itemResult.Message = providerMessage(err)
		s.recordFailedAttempt(ctx, purchase, details, err)
		return itemResult, true
	}

	if err := s.ledger.RecordPurchase(ctx, purchase, paymentMethodBalance, details); err != nil {
		s.log.Error("record checkout purchase", "custom_id", customID, "err", err)
		itemResult.Status = models.PurchaseFailed
		itemResult.Message = "internal error"
		return itemResult, true
	}

	if _, err := gw.PayOrder(ctx, customID); err != nil {
		if errors.Is(err, provider.ErrDeclined) {
			itemResult.Status = models.PurchaseFailed
			itemResult.Message = providerMessage(err)
			return itemResult, s.failPurchase(ctx, customID, err)
		}
		// Ambiguous: payment may have gone through. Keep the item
		// unfinished and the money debited until reconciliation.
		itemResult.Status = models.PurchaseProcessing
		itemResult.Message = "payment outcome unknown, pending reconciliation"
		s.log.Error("ambiguous checkout payment failure", "custom_id", customID, "err", err)
		return itemResult, false
	}

	status, err := gw.OrderStatus(ctx, customID)
	if err != nil {
		itemResult.Success = true
		itemResult.Status = models.PurchaseProcessing
		itemResult.Message = "payment accepted, awaiting confirmation"
		return itemResult, false
	}

	switch mapProviderStatus(status.Code) {
	case models.PurchaseCompleted:
		if err := s.ledger.UpdatePurchaseStatus(ctx, customID, models.PurchaseCompleted, status.Pins, status.Data); err != nil {
			s.log.Error("complete checkout purchase", "custom_id", customID, "err", err)
		}
		itemResult.Success = true
		itemResult.Status = models.PurchaseCompleted
		itemResult.Message = status.Message
		itemResult.Pins = status.Pins
		itemResult.Data = status.Data
		if s.notifier != nil {
			s.notifier.OrderCompleted(ctx, userID, purchase)
		}
		return itemResult, false
	case models.PurchaseFailed:
		itemResult.Status = models.PurchaseFailed
		itemResult.Message = messageOrDefault(status.Message, "fulfillment failed")
		return itemResult, s.failPurchase(ctx, customID, errors.New(itemResult.Message))
	default:
		itemResult.Success = true
		itemResult.Status = models.PurchaseProcessing
		itemResult.Message = messageOrDefault(status.Message, "in progress")
		return itemResult, false
	}
}

func (s *OrderService) toUSD(ctx context.Context, m money.Money) (money.Money, error) {
	if m.Currency == money.USD {
		return m, nil
	}
	rate, err := s.rates.USDToRubRate(ctx)
	if err != nil {
		return money.Money{}, fmt.Errorf("get exchange rate: %w", err)
	}
	usd, err := m.ToUSD(rate)
	if err != nil {
		return money.Money{}, fmt.Errorf("convert to USD: %w", err)
	}
	return usd, nil
}

// refundPurchase compensates a confirmed fulfillment failure. The ledger
// runs the failed transition and the credit in one unit, guarded on the
// purchase still being unfinished, so concurrent settlers can never pay the
// refund out twice.
func (s *OrderService) refundPurchase(ctx context.Context, purchase *models.Purchase, reason string) {
	details := models.PaymentDetails{
		CustomID: purchase.CustomID,
		Note:     messageOrDefault(reason, "fulfillment failed"),
	}
	refunded, err := s.ledger.RefundPurchase(ctx, purchase, details)
	if err != nil {
		s.log.Error("refund purchase", "custom_id", purchase.CustomID, "err", err)
		return
	}
	if !refunded {
		s.log.Warn("purchase already settled, refund skipped", "custom_id", purchase.CustomID)
	}
}

// failPurchase settles the purchase as failed without moving money and
// reports whether this caller won the transition.
func (s *OrderService) failPurchase(ctx context.Context, customID string, cause error) bool {
	won, err := s.ledger.FailPurchase(ctx, customID)
	if err != nil {
		s.log.Error("mark purchase failed", "custom_id", customID, "cause", cause, "err", err)
		return false
	}
	return won
}

func (s *OrderService) recordFailedAttempt(ctx context.Context, purchase *models.Purchase, details models.PaymentDetails, cause error) {
	failed := *purchase
	failed.Status = models.PurchaseFailed
	details.Note = providerMessage(cause)
	if err := s.ledger.RecordPurchase(ctx, &failed, paymentMethodBalance, details); err != nil {
		s.log.Error("record failed attempt", "custom_id", purchase.CustomID, "err", err)
	}
}

func mapProviderStatus(code int) models.PurchaseStatus {
	switch code {
	case provider.StatusCompleted:
		return models.PurchaseCompleted
	case provider.StatusFailed:
		return models.PurchaseFailed
	default:
		return models.PurchasePending
	}
}

func providerMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func messageOrDefault(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}
