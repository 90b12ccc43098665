package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, nil))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func marketplaceServer(t *testing.T, authCalls *int32, orderHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	jsonHandler := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			h(w, r)
		}
	}
	mux.HandleFunc("/api/v2/auth/token", jsonHandler(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(authCalls, 1)
		json.NewEncoder(w).Encode(map[string]any{"token": "t1", "expires_in": 3600})
	}))
	mux.HandleFunc("/api/v2/orders", jsonHandler(orderHandler))
	mux.HandleFunc("/api/v2/orders/pay", jsonHandler(orderHandler))
	mux.HandleFunc("/api/v2/orders/status", jsonHandler(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":         2,
			"status_message": "done",
			"pins":           []string{"AAAA-1111"},
		})
	}))
	return httptest.NewServer(mux)
}

func TestMarketplaceCreatePayStatus(t *testing.T) {
	var authCalls int32
	srv := marketplaceServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer t1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"success": true, "order_id": "mk-77"})
	})
	defer srv.Close()

	c := NewMarketplaceClient(MarketplaceConfig{
		BaseURL:       srv.URL,
		Email:         "shop@example.com",
		APIKey:        "key",
		OrderTimeout:  time.Minute,
		StatusTimeout: 5 * time.Second,
	}, testLogger())

	ctx := context.Background()
	created, err := c.CreateOrder(ctx, OrderRequest{ExternalID: "svc-1", Quantity: 1, CustomID: "c-1"})
	require.NoError(t, err)
	require.Equal(t, "mk-77", created.OrderID)

	_, err = c.PayOrder(ctx, "c-1")
	require.NoError(t, err)

	st, err := c.OrderStatus(ctx, "c-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, st.Code)
	require.Equal(t, []string{"AAAA-1111"}, st.Pins)

	// Three API calls, one auth handshake.
	require.Equal(t, int32(1), atomic.LoadInt32(&authCalls))
}

func TestMarketplaceRejectionIsDeclined(t *testing.T) {
	var authCalls int32
	srv := marketplaceServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "service unavailable in region"})
	})
	defer srv.Close()

	c := NewMarketplaceClient(MarketplaceConfig{
		BaseURL: srv.URL, Email: "e", APIKey: "k",
		OrderTimeout: time.Minute, StatusTimeout: 5 * time.Second,
	}, testLogger())

	_, err := c.CreateOrder(context.Background(), OrderRequest{ExternalID: "svc", Quantity: 1, CustomID: "c-2"})
	require.ErrorIs(t, err, ErrDeclined)
	require.Contains(t, err.Error(), "service unavailable in region")
}

func TestMarketplaceServerErrorIsNotDeclined(t *testing.T) {
	var authCalls int32
	srv := marketplaceServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	defer srv.Close()

	c := NewMarketplaceClient(MarketplaceConfig{
		BaseURL: srv.URL, Email: "e", APIKey: "k",
		OrderTimeout: time.Minute, StatusTimeout: 5 * time.Second,
	}, testLogger())

	_, err := c.PayOrder(context.Background(), "c-3")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDeclined)
}

func TestFragmentStateNormalization(t *testing.T) {
	cases := map[string]int{
		"completed": StatusCompleted,
		"delivered": StatusCompleted,
		"failed":    StatusFailed,
		"declined":  StatusFailed,
		"cancelled": StatusFailed,
		"queued":    1,
		"":          1,
	}
	for state, want := range cases {
		require.Equal(t, want, fragmentStateCode(state), "state %q", state)
	}
}

func TestCardgateStatusNormalization(t *testing.T) {
	require.Equal(t, StatusCompleted, cardgateStatusCode("succeeded"))
	require.Equal(t, StatusFailed, cardgateStatusCode("canceled"))
	require.Equal(t, StatusFailed, cardgateStatusCode("failed"))
	require.Equal(t, 1, cardgateStatusCode("waiting_for_capture"))
}

func TestCardgateCreateReturnsPaymentURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/payments", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "shop-1", user)
		require.Equal(t, "sk", pass)
		require.NotEmpty(t, r.Header.Get("Idempotence-Key"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "pay-1", "status": "pending", "payment_url": "https://pay.example/p/1",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewCardgateClient(CardgateConfig{
		BaseURL: srv.URL, ShopID: "shop-1", SecretKey: "sk",
		OrderTimeout: time.Minute, StatusTimeout: 5 * time.Second,
	}, testLogger())

	created, err := c.CreateOrder(context.Background(), OrderRequest{ExternalID: "card-50", Quantity: 1, CustomID: "c-9"})
	require.NoError(t, err)
	require.Equal(t, "pay-1", created.OrderID)
	require.Equal(t, "https://pay.example/p/1", created.PaymentURL)
}

func TestRegistry(t *testing.T) {
	reg := Registry{Marketplace: &MarketplaceClient{}}

	gw, err := reg.Gateway(Marketplace)
	require.NoError(t, err)
	require.NotNil(t, gw)

	_, err = reg.Gateway("unknown")
	require.Error(t, err)
}
