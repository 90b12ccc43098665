package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const rateSettingName = "usd_to_rub_rate"

type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// USDToRubRate returns the current USD->RUB exchange rate used for balance
// comparisons on RUB-priced services.
func (r *SettingsRepository) USDToRubRate(ctx context.Context) (decimal.Decimal, error) {
	const query = `SELECT value FROM settings WHERE name = ?`
	var raw string
	if err := r.db.QueryRowContext(ctx, query, rateSettingName).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("setting %s is not configured", rateSettingName)
		}
		return decimal.Zero, fmt.Errorf("get exchange rate: %w", err)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse exchange rate %q: %w", raw, err)
	}
	return rate, nil
}

func (r *SettingsRepository) SetUSDToRubRate(ctx context.Context, rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return fmt.Errorf("exchange rate must be positive")
	}
	const query = `
INSERT INTO settings (name, value) VALUES (?, ?)
ON DUPLICATE KEY UPDATE value = VALUES(value)`
	if _, err := r.db.ExecContext(ctx, query, rateSettingName, rate.String()); err != nil {
		return fmt.Errorf("set exchange rate: %w", err)
	}
	return nil
}
