package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/digkill/giftstore/internal/models"
	"github.com/digkill/giftstore/internal/money"
	"github.com/digkill/giftstore/internal/provider"
	"github.com/digkill/giftstore/internal/repository"
)

// CatalogService serves product lookups for the storefront and CRUD for the
// admin panel. It satisfies the orchestrator's Catalog interface.
type CatalogService struct {
	products *repository.ProductRepository
	settings *repository.SettingsRepository
}

func NewCatalogService(products *repository.ProductRepository, settings *repository.SettingsRepository) *CatalogService {
	return &CatalogService{products: products, settings: settings}
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return s.products.GetByID(ctx, id)
}

func (s *CatalogService) ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	return s.products.List(ctx, activeOnly)
}

func (s *CatalogService) CreateProduct(ctx context.Context, p *models.Product) (*models.Product, error) {
	if err := validateProduct(p); err != nil {
		return nil, err
	}
	created, err := s.products.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	return created, nil
}

func (s *CatalogService) UpdateProduct(ctx context.Context, p *models.Product) (*models.Product, error) {
	if err := validateProduct(p); err != nil {
		return nil, err
	}
	existing, err := s.products.GetByID(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if existing == nil {
		return nil, ErrProductNotFound
	}
	updated, err := s.products.Update(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	return updated, nil
}

func (s *CatalogService) DeleteProduct(ctx context.Context, id int64) error {
	return s.products.Delete(ctx, id)
}

// USDToRubRate satisfies the orchestrator's RateSource interface.
func (s *CatalogService) USDToRubRate(ctx context.Context) (decimal.Decimal, error) {
	return s.settings.USDToRubRate(ctx)
}

func (s *CatalogService) SetUSDToRubRate(ctx context.Context, rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return fmt.Errorf("rate must be positive: %w", ErrInvalidInput)
	}
	return s.settings.SetUSDToRubRate(ctx, rate)
}

func validateProduct(p *models.Product) error {
	if p.Name == "" || p.ExternalID == "" {
		return fmt.Errorf("name and external_id are required: %w", ErrInvalidInput)
	}
	switch p.Provider {
	case provider.Marketplace, provider.Fragment, provider.Cardgate:
	default:
		return fmt.Errorf("unknown provider %q: %w", p.Provider, ErrInvalidInput)
	}
	switch p.Currency {
	case money.USD, money.RUB:
	default:
		return fmt.Errorf("unsupported currency %q: %w", p.Currency, ErrInvalidInput)
	}
	if !p.Price.IsPositive() {
		return fmt.Errorf("price must be positive: %w", ErrInvalidInput)
	}
	return nil
}
