package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/digkill/giftstore/internal/auth"
	"github.com/digkill/giftstore/internal/models"
	"github.com/digkill/giftstore/internal/service"
)

type telegramAuthRequest struct {
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username"`
}

type codeRequest struct {
	Type       models.AuthType `json:"type"`
	Identifier string          `json:"identifier"`
	Code       string          `json:"code,omitempty"`
}

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (s *Server) handleAuthTelegram(w http.ResponseWriter, r *http.Request) {
	var req telegramAuthRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.TelegramID == 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "telegram_id required"})
		return
	}

	user, err := s.users.AuthTelegram(r.Context(), req.TelegramID, req.Username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.issueSession(w, user)
}

func (s *Server) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.users.RequestVerification(r.Context(), req.Type, req.Identifier); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !s.decode(w, r, &req) {
		return
	}
	user, err := s.users.ConfirmVerification(r.Context(), req.Type, req.Identifier, req.Code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.issueSession(w, user)
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Username != s.adminUsername || !auth.CheckAdminPassword(s.adminPasswordHash, req.Password) {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	token, err := s.tokens.IssueAdminToken()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) issueSession(w http.ResponseWriter, user *models.User) {
	token, err := s.tokens.IssueUserToken(user.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	user, err := s.users.Profile(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	balance, err := s.users.Balance(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	txns, err := s.users.Transactions(r.Context(), userID, queryLimit(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txns)
}

func (s *Server) handlePurchases(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	purchases, err := s.users.Purchases(r.Context(), userID, queryLimit(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, purchases)
}

func (s *Server) handlePWAShown(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	if err := s.users.MarkPWAInstructionShown(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.catalog.ListProducts(r.Context(), true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, products)
}

type redeemRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRedeemPromo(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	var req redeemRequest
	if !s.decode(w, r, &req) {
		return
	}
	promo, err := s.promos.Redeem(r.Context(), userID, req.Code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"type":  promo.Type,
		"value": promo.Value,
	})
}

type createOrderRequest struct {
	ProductID int64             `json:"product_id"`
	Quantity  int               `json:"quantity"`
	Extra     map[string]string `json:"extra,omitempty"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	var req createOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	result, err := s.orders.CreateOrder(r.Context(), service.CreateOrderCommand{
		UserID:    userID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Extra:     req.Extra,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	result, err := s.orders.GetOrder(r.Context(), userID, chi.URLParam(r, "customID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePayOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	result, err := s.orders.PayOrder(r.Context(), userID, chi.URLParam(r, "customID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type checkoutRequest struct {
	Items []createOrderRequest `json:"items"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	var req checkoutRequest
	if !s.decode(w, r, &req) {
		return
	}
	cmd := service.CheckoutCommand{UserID: userID}
	for _, item := range req.Items {
		if item.Quantity == 0 {
			item.Quantity = 1
		}
		cmd.Items = append(cmd.Items, service.CheckoutItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Extra:     item.Extra,
		})
	}
	result, err := s.orders.Checkout(r.Context(), cmd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}
