package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/giftstore/internal/models"
)

var (
	ErrPromoNotFound        = errors.New("promocode not found")
	ErrPromoAlreadyRedeemed = errors.New("promocode already redeemed")
)

type PromoRepository struct {
	db *sql.DB
}

func NewPromoRepository(db *sql.DB) *PromoRepository {
	return &PromoRepository{db: db}
}

const promoColumns = `id, code, type, value, is_active, COALESCE(created_by, ''), created_at, updated_at`

func (r *PromoRepository) GetByCode(ctx context.Context, code string) (*models.Promocode, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+promoColumns+` FROM promocodes WHERE code = ?`, code)
	return scanPromo(row)
}

func (r *PromoRepository) GetByID(ctx context.Context, id int64) (*models.Promocode, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+promoColumns+` FROM promocodes WHERE id = ?`, id)
	return scanPromo(row)
}

func scanPromo(row *sql.Row) (*models.Promocode, error) {
	var p models.Promocode
	if err := row.Scan(&p.ID, &p.Code, &p.Type, &p.Value, &p.IsActive, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan promocode: %w", err)
	}
	return &p, nil
}

// Redeem records a usage for (promocode, user) and, for balance-type codes,
// credits the user in the same transaction. The already-redeemed check runs
// inside the transaction so a concurrent double submit cannot double-credit;
// the unique key on (promocode_id, user_id) backs that up.
func (r *PromoRepository) Redeem(ctx context.Context, promo *models.Promocode, userID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var active bool
	err = tx.QueryRowContext(ctx, `SELECT is_active FROM promocodes WHERE id = ? FOR UPDATE`, promo.ID).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPromoNotFound
		}
		return fmt.Errorf("lock promocode: %w", err)
	}
	if !active {
		return ErrPromoNotFound
	}

	var dummy int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM promocode_usage WHERE promocode_id = ? AND user_id = ?`,
		promo.ID, userID).Scan(&dummy)
	if err == nil {
		return ErrPromoAlreadyRedeemed
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check redemption: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO promocode_usage (promocode_id, user_id) VALUES (?, ?)`,
		promo.ID, userID); err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}

	if promo.Type == models.PromocodeBalance {
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET balance = balance + ?, updated_at = NOW() WHERE id = ?`,
			promo.Value, userID)
		if err != nil {
			return fmt.Errorf("credit promo balance: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("promo credit rows affected: %w", err)
		}
		if affected == 0 {
			return ErrUserNotFound
		}

		details := models.PaymentDetails{Note: "promocode " + promo.Code}
		if err := insertTransaction(ctx, tx, userID, promo.Value, models.TransactionDeposit, models.TransactionCompleted, "promocode", details); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit redemption: %w", err)
	}
	return nil
}

// ActiveDiscount returns the user's most recently redeemed discount promocode
// that is still active and still has its usage row, or nil.
func (r *PromoRepository) ActiveDiscount(ctx context.Context, userID int64) (*models.Promocode, error) {
	const query = `
SELECT p.id, p.code, p.type, p.value, p.is_active, COALESCE(p.created_by, ''), p.created_at, p.updated_at
FROM promocode_usage u
JOIN promocodes p ON p.id = u.promocode_id
WHERE u.user_id = ? AND p.type = ? AND p.is_active = 1
ORDER BY u.used_at DESC, u.id DESC
LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, userID, models.PromocodeDiscount)
	var p models.Promocode
	if err := row.Scan(&p.ID, &p.Code, &p.Type, &p.Value, &p.IsActive, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan active discount: %w", err)
	}
	return &p, nil
}

// DeleteUsage removes the (promocode, user) usage row. Deleting an absent row
// is not an error.
func (r *PromoRepository) DeleteUsage(ctx context.Context, promocodeID, userID int64) error {
	const query = `DELETE FROM promocode_usage WHERE promocode_id = ? AND user_id = ?`
	if _, err := r.db.ExecContext(ctx, query, promocodeID, userID); err != nil {
		return fmt.Errorf("delete promo usage: %w", err)
	}
	return nil
}

func (r *PromoRepository) List(ctx context.Context) ([]models.Promocode, error) {
	const query = `SELECT ` + promoColumns + ` FROM promocodes ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list promocodes: %w", err)
	}
	defer rows.Close()

	var promos []models.Promocode
	for rows.Next() {
		var p models.Promocode
		if err := rows.Scan(&p.ID, &p.Code, &p.Type, &p.Value, &p.IsActive, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan promocode list: %w", err)
		}
		promos = append(promos, p)
	}
	return promos, rows.Err()
}

func (r *PromoRepository) Create(ctx context.Context, promo *models.Promocode) (*models.Promocode, error) {
	const query = `
INSERT INTO promocodes (code, type, value, is_active, created_by)
VALUES (?, ?, ?, ?, NULLIF(?, ''))`
	res, err := r.db.ExecContext(ctx, query, promo.Code, promo.Type, promo.Value, promo.IsActive, promo.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("create promocode: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("promocode last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PromoRepository) SetActive(ctx context.Context, id int64, active bool) error {
	const query = `UPDATE promocodes SET is_active = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, active, id); err != nil {
		return fmt.Errorf("set promocode active: %w", err)
	}
	return nil
}

func (r *PromoRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM promocodes WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete promocode: %w", err)
	}
	return nil
}
