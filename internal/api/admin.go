package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/digkill/giftstore/internal/models"
)

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	users, err := s.users.ListUsers(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, users)
}

type setBalanceRequest struct {
	Balance decimal.Decimal `json:"balance"`
}

func (s *Server) handleAdminSetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	var req setBalanceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.users.SetBalance(r.Context(), id, req.Balance); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminListPromos(w http.ResponseWriter, r *http.Request) {
	promos, err := s.promos.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, promos)
}

type promoRequest struct {
	Code  string               `json:"code"`
	Type  models.PromocodeType `json:"type"`
	Value decimal.Decimal      `json:"value"`
}

func (s *Server) handleAdminCreatePromo(w http.ResponseWriter, r *http.Request) {
	var req promoRequest
	if !s.decode(w, r, &req) {
		return
	}
	promo, err := s.promos.Create(r.Context(), req.Code, req.Type, req.Value, s.adminUsername)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, promo)
}

type promoUpdateRequest struct {
	IsActive *bool `json:"is_active"`
}

func (s *Server) handleAdminUpdatePromo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	var req promoUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "is_active required"})
		return
	}
	if err := s.promos.SetActive(r.Context(), id, *req.IsActive); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminDeletePromo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	if err := s.promos.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.catalog.ListProducts(r.Context(), false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, products)
}

type productRequest struct {
	Name       string          `json:"name"`
	Provider   string          `json:"provider"`
	ExternalID string          `json:"external_id"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	IsActive   bool            `json:"is_active"`
}

func (s *Server) handleAdminCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !s.decode(w, r, &req) {
		return
	}
	product, err := s.catalog.CreateProduct(r.Context(), &models.Product{
		Name:       req.Name,
		Provider:   req.Provider,
		ExternalID: req.ExternalID,
		Price:      req.Price,
		Currency:   req.Currency,
		IsActive:   req.IsActive,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, product)
}

func (s *Server) handleAdminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	var req productRequest
	if !s.decode(w, r, &req) {
		return
	}
	product, err := s.catalog.UpdateProduct(r.Context(), &models.Product{
		ID:         id,
		Name:       req.Name,
		Provider:   req.Provider,
		ExternalID: req.ExternalID,
		Price:      req.Price,
		Currency:   req.Currency,
		IsActive:   req.IsActive,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleAdminDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	if err := s.catalog.DeleteProduct(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type exchangeRateRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

func (s *Server) handleAdminSetExchangeRate(w http.ResponseWriter, r *http.Request) {
	var req exchangeRateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.catalog.SetUSDToRubRate(r.Context(), req.Rate); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
