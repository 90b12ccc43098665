package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/giftstore/internal/auth"
	"github.com/digkill/giftstore/internal/service"
)

type Server struct {
	addr              string
	log               *slog.Logger
	tokens            *auth.Manager
	adminUsername     string
	adminPasswordHash string
	users             *service.UserService
	catalog           *service.CatalogService
	promos            *service.PromoService
	orders            *service.OrderService
	router            *chi.Mux
}

func NewServer(addr string, log *slog.Logger, tokens *auth.Manager, adminUsername, adminPasswordHash string, users *service.UserService, catalog *service.CatalogService, promos *service.PromoService, orders *service.OrderService) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:              addr,
		log:               log,
		tokens:            tokens,
		adminUsername:     adminUsername,
		adminPasswordHash: adminPasswordHash,
		users:             users,
		catalog:           catalog,
		promos:            promos,
		orders:            orders,
		router:            r,
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/telegram", s.handleAuthTelegram)
		r.Post("/auth/request-code", s.handleRequestCode)
		r.Post("/auth/verify-code", s.handleVerifyCode)
		r.Post("/auth/admin", s.handleAdminLogin)

		r.Group(func(protected chi.Router) {
			protected.Use(s.tokens.Middleware)
			protected.Get("/me", s.handleProfile)
			protected.Get("/me/balance", s.handleBalance)
			protected.Get("/me/transactions", s.handleTransactions)
			protected.Get("/me/purchases", s.handlePurchases)
			protected.Post("/me/pwa-shown", s.handlePWAShown)
			protected.Get("/products", s.handleListProducts)
			protected.Post("/promocodes/redeem", s.handleRedeemPromo)
			protected.Post("/orders", s.handleCreateOrder)
			protected.Get("/orders/{customID}", s.handleGetOrder)
			protected.Post("/orders/{customID}/pay", s.handlePayOrder)
			protected.Post("/checkout", s.handleCheckout)
		})

		r.Route("/admin", func(admin chi.Router) {
			admin.Use(s.tokens.AdminMiddleware)
			admin.Get("/users", s.handleAdminListUsers)
			admin.Put("/users/{id}/balance", s.handleAdminSetBalance)
			admin.Route("/promocodes", func(r chi.Router) {
				r.Get("/", s.handleAdminListPromos)
				r.Post("/", s.handleAdminCreatePromo)
				r.Put("/{id}", s.handleAdminUpdatePromo)
				r.Delete("/{id}", s.handleAdminDeletePromo)
			})
			admin.Route("/products", func(r chi.Router) {
				r.Get("/", s.handleAdminListProducts)
				r.Post("/", s.handleAdminCreateProduct)
				r.Put("/{id}", s.handleAdminUpdateProduct)
				r.Delete("/{id}", s.handleAdminDeleteProduct)
			})
			admin.Put("/settings/exchange-rate", s.handleAdminSetExchangeRate)
		})
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 6 * time.Minute, // order creation waits on the provider
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates the service error taxonomy into HTTP statuses.
// Unrecognized errors are logged and masked as 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrPromoNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrPromoRedeemed):
		status = http.StatusConflict
	case errors.Is(err, service.ErrVerificationFailed):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrProviderFailure):
		status = http.StatusBadGateway
	default:
		s.log.Error("handler error", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}
