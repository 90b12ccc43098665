package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/digkill/giftstore/internal/models"
	"github.com/digkill/giftstore/internal/provider"
	"github.com/digkill/giftstore/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLedger keeps a single user balance in memory and mirrors the atomicity
// and conditional-transition guarantees of the real repository at the method
// level. Safe for concurrent callers.
type fakeLedger struct {
	mu        sync.Mutex
	balance   decimal.Decimal
	purchases map[string]*models.Purchase
	credits   []decimal.Decimal
	debits    []decimal.Decimal
}

func newFakeLedger(balance string) *fakeLedger {
	return &fakeLedger{
		balance:   decimal.RequireFromString(balance),
		purchases: map[string]*models.Purchase{},
	}
}

func (f *fakeLedger) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeLedger) Credit(ctx context.Context, userID int64, amount decimal.Decimal, method string, details models.PaymentDetails) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credit(amount)
	return nil
}

func (f *fakeLedger) Debit(ctx context.Context, userID int64, amount decimal.Decimal, method string, details models.PaymentDetails) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.debit(amount)
}

func (f *fakeLedger) DebitForPurchase(ctx context.Context, p *models.Purchase, method string, details models.PaymentDetails) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.debit(p.Amount); err != nil {
		return err
	}
	f.store(p)
	return nil
}

func (f *fakeLedger) RecordPurchase(ctx context.Context, p *models.Purchase, method string, details models.PaymentDetails) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store(p)
	return nil
}

func (f *fakeLedger) UpdatePurchaseStatus(ctx context.Context, customID string, status models.PurchaseStatus, pins []string, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.purchases[customID]
	if !ok {
		return repository.ErrPurchaseNotFound
	}
	p.Status = status
	return nil
}

func (f *fakeLedger) GetPurchaseByCustomID(ctx context.Context, customID string) (*models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.purchases[customID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeLedger) ClaimPurchase(ctx context.Context, customID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.purchases[customID]
	if !ok || p.Status != models.PurchasePending {
		return false, nil
	}
	p.Status = models.PurchaseProcessing
	return true, nil
}

func (f *fakeLedger) FailPurchase(ctx context.Context, customID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail(customID), nil
}

func (f *fakeLedger) RefundPurchase(ctx context.Context, p *models.Purchase, details models.PaymentDetails) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.fail(p.CustomID) {
		return false, nil
	}
	f.credit(p.Amount)
	return true, nil
}

func (f *fakeLedger) credit(amount decimal.Decimal) {
	f.balance = f.balance.Add(amount)
	f.credits = append(f.credits, amount)
}

func (f *fakeLedger) debit(amount decimal.Decimal) error {
	if f.balance.LessThan(amount) {
		return repository.ErrInsufficientBalance
	}
	f.balance = f.balance.Sub(amount)
	f.debits = append(f.debits, amount)
	return nil
}

func (f *fakeLedger) store(p *models.Purchase) {
	cp := *p
	if cp.Status == "" {
		cp.Status = models.PurchasePending
	}
	f.purchases[cp.CustomID] = &cp
}

func (f *fakeLedger) fail(customID string) bool {
	p, ok := f.purchases[customID]
	if !ok {
		return false
	}
	if p.Status != models.PurchasePending && p.Status != models.PurchaseProcessing {
		return false
	}
	p.Status = models.PurchaseFailed
	return true
}

func (f *fakeLedger) creditCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.credits)
}

func (f *fakeLedger) balanceString() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance.String()
}

type fakeCatalog struct {
	products map[int64]*models.Product
}

func (f *fakeCatalog) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return f.products[id], nil
}

type fakeRates struct{ rate string }

func (f *fakeRates) USDToRubRate(ctx context.Context) (decimal.Decimal, error) {
	return decimal.RequireFromString(f.rate), nil
}

type fakeDiscounts struct {
	promo   *models.Promocode
	revoked int
}

func (f *fakeDiscounts) ActiveDiscount(ctx context.Context, userID int64) (*models.Promocode, error) {
	return f.promo, nil
}

func (f *fakeDiscounts) RevokeDiscountUsage(ctx context.Context, userID, promocodeID int64) error {
	f.revoked++
	return nil
}

// fakeGateway scripts the three provider calls.
type fakeGateway struct {
	mu          sync.Mutex
	createErr   error
	payErr      error
	statusErr   error
	status      provider.OrderStatus
	createCalls int
	payCalls    int
}

func (f *fakeGateway) CreateOrder(ctx context.Context, req provider.OrderRequest) (*provider.CreateResult, error) {
	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &provider.CreateResult{OrderID: "ext-1"}, nil
}

func (f *fakeGateway) PayOrder(ctx context.Context, customID string) (*provider.CreateResult, error) {
	f.mu.Lock()
	f.payCalls++
	f.mu.Unlock()
	if f.payErr != nil {
		return nil, f.payErr
	}
	return &provider.CreateResult{OrderID: "ext-1"}, nil
}

func (f *fakeGateway) OrderStatus(ctx context.Context, customID string) (*provider.OrderStatus, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	st := f.status
	return &st, nil
}

func (f *fakeGateway) payCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payCalls
}

type fakeResolver struct{ gw *fakeGateway }

func (f *fakeResolver) Gateway(name string) (provider.Gateway, error) {
	return f.gw, nil
}

func rubProduct(id int64, price string) *models.Product {
	return &models.Product{
		ID: id, Name: "Telegram Premium 3m", Provider: provider.Fragment,
		ExternalID: "premium-3m", Price: decimal.RequireFromString(price),
		Currency: "RUB", IsActive: true,
	}
}

func usdProduct(id int64, price string) *models.Product {
	return &models.Product{
		ID: id, Name: "Gift Card", Provider: provider.Marketplace,
		ExternalID: "gift-50", Price: decimal.RequireFromString(price),
		Currency: "USD", IsActive: true,
	}
}

func newTestService(ledger *fakeLedger, catalog *fakeCatalog, discounts *fakeDiscounts, gw *fakeGateway) *OrderService {
	return NewOrderService(ledger, catalog, &fakeRates{rate: "90"}, discounts, &fakeResolver{gw: gw}, nil, testLogger())
}

func TestCreateOrderDebitsAfterProviderAccepts(t *testing.T) {
	ledger := newFakeLedger("100")
	catalog := &fakeCatalog{products: map[int64]*models.Product{1: rubProduct(1, "399")}}
	gw := &fakeGateway{}
	svc := newTestService(ledger, catalog, &fakeDiscounts{}, gw)

	res, err := svc.CreateOrder(context.Background(), CreateOrderCommand{UserID: 7, ProductID: 1, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, models.PurchasePending, res.Status)

	// 399 RUB at a 90 rate is 4.4333 USD.
	require.Equal(t, "4.4333", res.ChargedUSD.String())
	require.Equal(t, "95.5667", ledger.balanceString())

	p, err := ledger.GetPurchaseByCustomID(context.Background(), res.CustomID)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, models.PurchasePending, p.Status)
	require.Equal(t, "399", p.TotalPrice.String())
	require.Equal(t, "RUB", p.Currency)
}

func TestCreateOrderInsufficientBalanceSkipsProvider(t *testing.T) {
	ledger := newFakeLedger("1")
	catalog := &fakeCatalog{products: map[int64]*models.Product{1: usdProduct(1, "50")}}
	gw := &fakeGateway{}
	svc := newTestService(ledger, catalog, &fakeDiscounts{}, gw)

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{UserID: 7, ProductID: 1, Quantity: 1})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Zero(t, gw.createCalls, "provider must not be called without funds")
	require.Equal(t, "1", ledger.balanceString())
}

func TestCreateOrderProviderRejectionRecordsFailedAudit(t *testing.T) {
	ledger := newFakeLedger("100")
	catalog := &fakeCatalog{products: map[int64]*models.Product{1: usdProduct(1, "50")}}
	gw := &fakeGateway{createErr: provider.ErrDeclined}
	svc := newTestService(ledger, catalog, &fakeDiscounts{}, gw)

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{UserID: 7, ProductID: 1, Quantity: 1})
	require.ErrorIs(t, err, ErrProviderFailure)

	// No money moved, but the attempt is on record.
	require.Equal(t, "100", ledger.balanceString())
	require.Len(t, ledger.purchases, 1)
	for _, p := range ledger.purchases {
		require.Equal(t, models.PurchaseFailed, p.Status)
	}
}

func TestPayOrderCompletes(t *testing.T) {
	ledger := newFakeLedger("100")
	catalog := &fakeCatalog{products: map[int64]*models.Product{1: usdProduct(1, "50")}}
	gw := &fakeGateway{status: provider.OrderStatus{Code: provider.StatusCompleted, Pins: []string{"AAAA-1111"}}}
	svc := newTestService(ledger, catalog, &fakeDiscounts{}, gw)

	created, err := svc.CreateOrder(context.Background(), CreateOrderCommand{UserID: 7, ProductID: 1, Quantity: 1})
	require.NoError(t, err)

	res, err := svc.PayOrder(context.Background(), 7, created.CustomID)
	require.NoError(t, err)
	require.Equal(t, models.PurchaseCompleted, res.Status)
	require.Equal(t, []string{"AAAA-1111"}, res.Pins)
	require.Equal(t, "50", ledger.balanceString())
}

func TestPayOrderDeclinedRefunds(t *testing.T) {
	ledger := newFakeLedger("100")
	catalog := &fakeCatalog{products: map[int64]*models.Product{1: usdProduct(1, "50")}}
	gw := &fakeGateway{payErr: provider.ErrDeclined}
	svc := newTestService(ledger, catalog, &fakeDiscounts{}, gw)

	created, err := svc.CreateOrder(context.Background(), CreateOrderCommand{UserID: 7, ProductID: 1, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, "50", ledger.balanceString())

	_, err = svc.PayOrder(context.Background(), 7, created.CustomID)
	require.ErrorIs(t, err, ErrProviderFailure)

	// Confirmed decline: full refund, purchase failed.
	require.Equal(t, "100", ledger.balanceString())
	p, _ := ledger.GetPurchaseByCustomID(context.Background(), created.CustomID)
	require.Equal(t, models.PurchaseFailed, p.Status)
}

func TestPayOrderConcurrentAttemptsRefundOnce(t *testing.T) {
	ledger := newFakeLedger("100")
	catalog := &fakeCatalog{products: map[int64]*models.Product{1: usdProduct(1, "50")}}
	gw := &fakeGateway{payErr: provider.ErrDeclined}
	svc := newTestService(ledger, catalog, &fakeDiscounts{}, gw)

	created, err := svc.CreateOrder(context.Background(), CreateOrderCommand{UserID: 7, ProductID: 1, Quantity: 1})
	require.NoError(t, err)

	// Two payment attempts race for the same order. The atomic claim lets
	// exactly one through to the provider; the decline then refunds once.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.PayOrder(context.Background(), 7, created.CustomID)
		}(i)
	}
	wg.Wait()

	require.Error(t, errs[0])
	require.Error(t, errs[1])
	require.Equal(t, 1, gw.payCount(), "provider pay must run at most once per order")
	require.Equal(t, 1, ledger.creditCount(), "decline must refund exactly once")
	require.Equal(t, "100", ledger.balanceString())

	p, _ := ledger.GetPurchaseByCustomID(context.Background(), created.CustomID)
	require.Equal(t, models.PurchaseFailed, p.Status)
}

func TestPayOrderAmbiguousFailureLeavesDebit(t *testing.T) {
	ledger := newFakeLedger("100")
	catalog := &fakeCatalog{products: map[int64]*models.Product{1: usdProduct(1, "50")}}
	gw := &fakeGateway{payErr: errors.New("dial tcp: i/o timeout")}
	svc := newTestService(ledger, catalog, &fakeDiscounts{}, gw)

	created, err := svc.CreateOrder(context.Background(), CreateOrderCommand{UserID: 7, ProductID: 1, Quantity: 1})
	require.NoError(t, err)

	_, err = svc.PayOrder(context.Background(), 7, created.CustomID)
	require.ErrorIs(t, err, ErrProviderFailure)

	// Ambiguous outcome: no refund, claim stays in place for reconciliation.
	require.Equal(t, "50", ledger.balanceString())
	require.Zero(t, ledger.creditCount())
	p, _ := ledger.GetPurchaseByCustomID(context.Background(), created.CustomID)
	require.Equal(t, models.PurchaseProcessing, p.Status)

	// A second payment attempt must not reach the provider again.
	_, err = svc.PayOrder(context.Background(), 7, created.CustomID)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Equal(t, 1, gw.payCount())
}

func TestPayOrderWrongUser(t *testing.T) {
	ledger := newFakeLedger("100")
	catalog := &fakeCatalog{products: map[int64]*models.Product{1: usdProduct(1, "50")}}
	gw := &fakeGateway{}
	svc := newTestService(ledger, catalog, &fakeDiscounts{}, gw)

	created, err := svc.CreateOrder(context.Background(), CreateOrderCommand{UserID: 7, ProductID: 1, Quantity: 1})
	require.NoError(t, err)

	_, err = svc.PayOrder(context.Background(), 8, created.CustomID)
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCheckoutChargesDiscountedTotalUpfront(t *testing.T) {
	ledger := newFakeLedger("100")
	catalog := &fakeCatalog{products: map[int64]*models.Product{
		1: usdProduct(1, "10"),
		2: usdProduct(2, "20"),
	}}
	gw := &fakeGateway{status: provider.OrderStatus{Code: provider.StatusCompleted}}
	discounts := &fakeDiscounts{promo: &models.Promocode{
		ID: 5, Type: models.PromocodeDiscount, Value: decimal.NewFromInt(50), IsActive: true,
	}}
	svc := newTestService(ledger, catalog, discounts, gw)

	res, err := svc.Checkout(context.Background(), CheckoutCommand{UserID: 7, Items: []CheckoutItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 1},
	}})
	require.NoError(t, err)
	require.Equal(t, "30", res.OriginalTotal.String())
	require.Equal(t, "15", res.DiscountAmount.String())
	require.Equal(t, "15", res.ChargedTotal.String())
	require.Equal(t, 2, res.Processed)
	require.Zero(t, res.Failed)
	require.Equal(t, "85", ledger.balanceString())

	// Discount consumed exactly once across the batch.
	require.Equal(t, 1, discounts.revoked)
}

func TestCheckoutRefundsFailedItemsAtDiscountedPrice(t *testing.T) {
	ledger := newFakeLedger("100")
	catalog := &fakeCatalog{products: map[int64]*models.Product{
		1: usdProduct(1, "10"),
		2: usdProduct(2, "20"),
	}}
	gw := &fakeGateway{status: provider.OrderStatus{Code: provider.StatusCompleted}}
	scripted := &scriptedGateway{inner: gw, declineOnPay: 2}
	discounts := &fakeDiscounts{promo: &models.Promocode{
		ID: 5, Type: models.PromocodeDiscount, Value: decimal.NewFromInt(50), IsActive: true,
	}}
	svc := NewOrderService(ledger, catalog, &fakeRates{rate: "90"}, discounts, &scriptedResolver{gw: scripted}, nil, testLogger())

	res, err := svc.Checkout(context.Background(), CheckoutCommand{UserID: 7, Items: []CheckoutItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 1},
	}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	// The failed item is refunded at its discounted price (10 USD of 20).
	require.Equal(t, "10", res.RefundedTotal.String())
	require.Equal(t, "95", ledger.balanceString())

	// One item succeeded, so the discount is still consumed.
	require.Equal(t, 1, discounts.revoked)
}

func TestCheckoutRoundingRemainderRefundsExactCharge(t *testing.T) {
	ledger := newFakeLedger("100")
	catalog := &fakeCatalog{products: map[int64]*models.Product{
		1: usdProduct(1, "1.1111"),
		2: usdProduct(2, "1.1111"),
		3: usdProduct(3, "1.1111"),
	}}
	gw := &fakeGateway{payErr: provider.ErrDeclined}
	discounts := &fakeDiscounts{promo: &models.Promocode{
		ID: 5, Type: models.PromocodeDiscount, Value: decimal.NewFromInt(15), IsActive: true,
	}}
	svc := newTestService(ledger, catalog, discounts, gw)

	res, err := svc.Checkout(context.Background(), CheckoutCommand{UserID: 7, Items: []CheckoutItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 1},
		{ProductID: 3, Quantity: 1},
	}})
	require.NoError(t, err)
	require.Equal(t, 3, res.Failed)

	// Per-item rounding (0.9444 x3) drifts from the charged total 2.8333;
	// the last item absorbs the remainder so the full charge comes back.
	require.Equal(t, "2.8333", res.ChargedTotal.String())
	require.Equal(t, "2.8333", res.RefundedTotal.String())
	require.Equal(t, "100", ledger.balanceString())
}

func TestCheckoutAllFailedKeepsDiscount(t *testing.T) {
	ledger := newFakeLedger("100")
	catalog := &fakeCatalog{products: map[int64]*models.Product{1: usdProduct(1, "10")}}
	gw := &fakeGateway{payErr: provider.ErrDeclined}
	discounts := &fakeDiscounts{promo: &models.Promocode{
		ID: 5, Type: models.PromocodeDiscount, Value: decimal.NewFromInt(50), IsActive: true,
	}}
	svc := newTestService(ledger, catalog, discounts, gw)

	res, err := svc.Checkout(context.Background(), CheckoutCommand{UserID: 7, Items: []CheckoutItem{
		{ProductID: 1, Quantity: 1},
	}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	// Everything failed: full refund, discount retained for retry.
	require.Equal(t, "100", ledger.balanceString())
	require.Zero(t, discounts.revoked)
}

func TestCheckoutInsufficientBalance(t *testing.T) {
	ledger := newFakeLedger("5")
	catalog := &fakeCatalog{products: map[int64]*models.Product{1: usdProduct(1, "10")}}
	gw := &fakeGateway{}
	svc := newTestService(ledger, catalog, &fakeDiscounts{}, gw)

	_, err := svc.Checkout(context.Background(), CheckoutCommand{UserID: 7, Items: []CheckoutItem{
		{ProductID: 1, Quantity: 1},
	}})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Zero(t, gw.createCalls)
	require.Equal(t, "5", ledger.balanceString())
}

// scriptedGateway declines the Nth PayOrder call and delegates everything
// else.
type scriptedGateway struct {
	inner        *fakeGateway
	declineOnPay int
	payCalls     int
}

func (s *scriptedGateway) CreateOrder(ctx context.Context, req provider.OrderRequest) (*provider.CreateResult, error) {
	return s.inner.CreateOrder(ctx, req)
}

func (s *scriptedGateway) PayOrder(ctx context.Context, customID string) (*provider.CreateResult, error) {
	s.payCalls++
	if s.payCalls == s.declineOnPay {
		return nil, provider.ErrDeclined
	}
	return s.inner.PayOrder(ctx, customID)
}

func (s *scriptedGateway) OrderStatus(ctx context.Context, customID string) (*provider.OrderStatus, error) {
	return s.inner.OrderStatus(ctx, customID)
}

type scriptedResolver struct{ gw provider.Gateway }

func (s *scriptedResolver) Gateway(name string) (provider.Gateway, error) {
	return s.gw, nil
}
