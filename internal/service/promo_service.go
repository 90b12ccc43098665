package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/digkill/giftstore/internal/models"
	"github.com/digkill/giftstore/internal/repository"
)

var percentLimit = decimal.NewFromInt(100)

// PromoStore is the slice of the promocode repository the service needs.
// Redeem is an atomic unit on the repository side: the usage row and, for
// balance codes, the credit land together or not at all.
type PromoStore interface {
	GetByCode(ctx context.Context, code string) (*models.Promocode, error)
	Redeem(ctx context.Context, promo *models.Promocode, userID int64) error
	ActiveDiscount(ctx context.Context, userID int64) (*models.Promocode, error)
	DeleteUsage(ctx context.Context, promocodeID, userID int64) error
	List(ctx context.Context) ([]models.Promocode, error)
	Create(ctx context.Context, promo *models.Promocode) (*models.Promocode, error)
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
}

// PromoService is the promocode engine: redemption, active-discount lookup
// and single-use revocation after a successful checkout.
type PromoService struct {
	promos PromoStore
}

func NewPromoService(promos PromoStore) *PromoService {
	return &PromoService{promos: promos}
}

// NormalizeCode is the canonical form codes are stored and looked up in.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Redeem applies a code for the user. Balance-type codes credit the ledger
// and record the usage atomically; discount-type codes only record the usage,
// the discount itself is realized at checkout.
func (s *PromoService) Redeem(ctx context.Context, userID int64, code string) (*models.Promocode, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, fmt.Errorf("empty code: %w", ErrInvalidInput)
	}

	promo, err := s.promos.GetByCode(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("get promocode: %w", err)
	}
	if promo == nil || !promo.IsActive {
		return nil, ErrPromoNotFound
	}

	if err := s.promos.Redeem(ctx, promo, userID); err != nil {
		switch {
		case errors.Is(err, repository.ErrPromoNotFound):
			return nil, ErrPromoNotFound
		case errors.Is(err, repository.ErrPromoAlreadyRedeemed):
			return nil, ErrPromoRedeemed
		case errors.Is(err, repository.ErrUserNotFound):
			return nil, ErrUserNotFound
		default:
			return nil, fmt.Errorf("redeem promocode: %w", err)
		}
	}
	return promo, nil
}

// ActiveDiscount returns the user's unconsumed discount promocode, or nil.
func (s *PromoService) ActiveDiscount(ctx context.Context, userID int64) (*models.Promocode, error) {
	return s.promos.ActiveDiscount(ctx, userID)
}

// RevokeDiscountUsage consumes the discount after a checkout with at least
// one successful item. Idempotent: revoking an absent usage is a no-op.
func (s *PromoService) RevokeDiscountUsage(ctx context.Context, userID, promocodeID int64) error {
	return s.promos.DeleteUsage(ctx, promocodeID, userID)
}

func (s *PromoService) List(ctx context.Context) ([]models.Promocode, error) {
	return s.promos.List(ctx)
}

func (s *PromoService) Create(ctx context.Context, code string, typ models.PromocodeType, value decimal.Decimal, createdBy string) (*models.Promocode, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, fmt.Errorf("empty code: %w", ErrInvalidInput)
	}
	switch typ {
	case models.PromocodeBalance:
		if !value.IsPositive() {
			return nil, fmt.Errorf("balance value must be positive: %w", ErrInvalidInput)
		}
	case models.PromocodeDiscount:
		if !value.IsPositive() || value.GreaterThan(percentLimit) {
			return nil, fmt.Errorf("discount percent must be in (0,100]: %w", ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("unknown promocode type %q: %w", typ, ErrInvalidInput)
	}

	promo := &models.Promocode{
		Code:      normalized,
		Type:      typ,
		Value:     value,
		IsActive:  true,
		CreatedBy: createdBy,
	}
	created, err := s.promos.Create(ctx, promo)
	if err != nil {
		return nil, fmt.Errorf("create promocode: %w", err)
	}
	return created, nil
}

func (s *PromoService) SetActive(ctx context.Context, id int64, active bool) error {
	return s.promos.SetActive(ctx, id, active)
}

func (s *PromoService) Delete(ctx context.Context, id int64) error {
	return s.promos.Delete(ctx, id)
}
