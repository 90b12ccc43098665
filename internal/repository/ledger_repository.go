package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/digkill/giftstore/internal/models"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPurchaseNotFound    = errors.New("purchase not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// setBalanceEpsilon suppresses audit transactions for negligible admin
// adjustments.
var setBalanceEpsilon = decimal.NewFromFloat(0.01)

// LedgerRepository owns every mutation of user balances, transactions and
// purchases. Each exported method is a single atomic unit: all statements
// commit together or none do.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	const query = `SELECT balance FROM users WHERE id = ?`
	var balance decimal.Decimal
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// Credit adds amount to the user's balance and writes the matching deposit
// transaction in the same unit.
func (r *LedgerRepository) Credit(ctx context.Context, userID int64, amount decimal.Decimal, method string, details models.PaymentDetails) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET balance = balance + ?, updated_at = NOW() WHERE id = ?`,
		amount, userID)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credit rows affected: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}

	if err := insertTransaction(ctx, tx, userID, amount, models.TransactionDeposit, models.TransactionCompleted, method, details); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credit: %w", err)
	}
	return nil
}

// Debit subtracts amount from the user's balance with a single conditional
// UPDATE so two concurrent debits can never overdraw, and writes the matching
// withdrawal transaction in the same unit.
func (r *LedgerRepository) Debit(ctx context.Context, userID int64, amount decimal.Decimal, method string, details models.PaymentDetails) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := debitBalance(ctx, tx, userID, amount); err != nil {
		return err
	}

	if err := insertTransaction(ctx, tx, userID, amount, models.TransactionWithdrawal, models.TransactionCompleted, method, details); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit debit: %w", err)
	}
	return nil
}

// SetBalance overwrites the balance (admin adjustment) and records the signed
// delta as a transaction unless it is below the audit epsilon.
func (r *LedgerRepository) SetBalance(ctx context.Context, userID int64, newBalance decimal.Decimal) error {
	if newBalance.IsNegative() {
		return ErrInvalidAmount
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current decimal.Decimal
	err = tx.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = ? FOR UPDATE`, userID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lock balance: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET balance = ?, updated_at = NOW() WHERE id = ?`,
		newBalance, userID); err != nil {
		return fmt.Errorf("set balance: %w", err)
	}

	delta := newBalance.Sub(current)
	if delta.Abs().GreaterThan(setBalanceEpsilon) {
		typ := models.TransactionDeposit
		if delta.IsNegative() {
			typ = models.TransactionWithdrawal
		}
		details := models.PaymentDetails{Note: "admin balance adjustment"}
		if err := insertTransaction(ctx, tx, userID, delta.Abs(), typ, models.TransactionCompleted, "admin", details); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set balance: %w", err)
	}
	return nil
}

// RecordPurchase inserts a purchase and its mirrored transaction in one unit.
// No balance is touched here; a purchase recorded as completed still bumps
// total_spent.
func (r *LedgerRepository) RecordPurchase(ctx context.Context, p *models.Purchase, method string, details models.PaymentDetails) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertPurchase(ctx, tx, p, method, details); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record purchase: %w", err)
	}
	return nil
}

// DebitForPurchase conditionally debits the USD amount and inserts the
// purchase plus its mirrored transaction, all in one unit. This is the
// single-order path: money leaves the balance only together with the
// purchase record.
func (r *LedgerRepository) DebitForPurchase(ctx context.Context, p *models.Purchase, method string, details models.PaymentDetails) error {
	if !p.Amount.IsPositive() {
		return ErrInvalidAmount
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := debitBalance(ctx, tx, p.UserID, p.Amount); err != nil {
		return err
	}

	if err := insertPurchase(ctx, tx, p, method, details); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purchase debit: %w", err)
	}
	return nil
}

// ClaimPurchase moves a pending purchase into processing with a single
// conditional UPDATE, mirroring the debit race guard. Exactly one of any
// number of concurrent claimants wins; the rest see false and must not touch
// the provider.
func (r *LedgerRepository) ClaimPurchase(ctx context.Context, customID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE purchases SET status = ? WHERE custom_id = ? AND status = ?`,
		models.PurchaseProcessing, customID, models.PurchasePending)
	if err != nil {
		return false, fmt.Errorf("claim purchase: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected: %w", err)
	}
	return affected > 0, nil
}

// FailPurchase settles an unfinished purchase as failed without moving money.
// Reports whether this caller performed the transition; a purchase already
// settled elsewhere is left untouched.
func (r *LedgerRepository) FailPurchase(ctx context.Context, customID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	won, err := failPurchaseTx(ctx, tx, customID)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit fail purchase: %w", err)
	}
	return true, nil
}

// RefundPurchase fails the purchase and credits the charged USD amount back
// in one unit. The conditional transition makes the refund single-shot: when
// a concurrent caller already settled the purchase, no credit is written and
// false is returned.
func (r *LedgerRepository) RefundPurchase(ctx context.Context, p *models.Purchase, details models.PaymentDetails) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	won, err := failPurchaseTx(ctx, tx, p.CustomID)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET balance = balance + ?, updated_at = NOW() WHERE id = ?`,
		p.Amount, p.UserID); err != nil {
		return false, fmt.Errorf("refund balance: %w", err)
	}
	if err := insertTransaction(ctx, tx, p.UserID, p.Amount, models.TransactionDeposit, models.TransactionCompleted, "refund", details); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit refund: %w", err)
	}
	return true, nil
}

// failPurchaseTx transitions purchase and linked transaction to failed inside
// the caller's tx, guarded on the purchase still being unfinished.
func failPurchaseTx(ctx context.Context, tx *sql.Tx, customID string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE purchases SET status = ? WHERE custom_id = ? AND status IN (?, ?)`,
		models.PurchaseFailed, customID, models.PurchasePending, models.PurchaseProcessing)
	if err != nil {
		return false, fmt.Errorf("fail purchase: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fail rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET status = ? WHERE custom_id = ? AND type = ?`,
		models.TransactionFailed, customID, models.TransactionPurchase); err != nil {
		return false, fmt.Errorf("fail purchase transaction: %w", err)
	}
	return true, nil
}

// UpdatePurchaseStatus transitions a purchase and its linked transaction
// together, keyed by custom id. Moving into completed bumps total_spent by
// the purchase's USD amount and attaches delivered pins/data to the
// transaction details.
func (r *LedgerRepository) UpdatePurchaseStatus(ctx context.Context, customID string, status models.PurchaseStatus, pins []string, data string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		txnID   int64
		userID  int64
		rawJSON []byte
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, user_id, payment_details FROM transactions
		 WHERE custom_id = ? AND type = ? FOR UPDATE`,
		customID, models.TransactionPurchase).Scan(&txnID, &userID, &rawJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPurchaseNotFound
		}
		return fmt.Errorf("find transaction: %w", err)
	}

	var details models.PaymentDetails
	if len(rawJSON) > 0 {
		if err := json.Unmarshal(rawJSON, &details); err != nil {
			return fmt.Errorf("decode payment details: %w", err)
		}
	}
	if len(pins) > 0 {
		details.Pins = pins
	}
	if data != "" {
		details.Data = data
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode payment details: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET status = ?, payment_details = ? WHERE id = ?`,
		transactionStatusFor(status), encoded, txnID); err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}

	var (
		prevStatus models.PurchaseStatus
		usdAmount  decimal.Decimal
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, amount FROM purchases WHERE custom_id = ? FOR UPDATE`,
		customID).Scan(&prevStatus, &usdAmount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPurchaseNotFound
		}
		return fmt.Errorf("find purchase: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE purchases SET status = ? WHERE custom_id = ?`,
		status, customID); err != nil {
		return fmt.Errorf("update purchase status: %w", err)
	}

	if status == models.PurchaseCompleted && prevStatus != models.PurchaseCompleted {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET total_spent = total_spent + ?, updated_at = NOW() WHERE id = ?`,
			usdAmount, userID); err != nil {
			return fmt.Errorf("bump total_spent: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status update: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetPurchaseByCustomID(ctx context.Context, customID string) (*models.Purchase, error) {
	const query = `
SELECT id, user_id, service_id, service_name, quantity, amount, total_price, currency, status, custom_id, purchase_date, created_at
FROM purchases WHERE custom_id = ?`
	row := r.db.QueryRowContext(ctx, query, customID)
	var p models.Purchase
	if err := row.Scan(&p.ID, &p.UserID, &p.ServiceID, &p.ServiceName, &p.Quantity, &p.Amount, &p.TotalPrice, &p.Currency, &p.Status, &p.CustomID, &p.PurchaseDate, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan purchase: %w", err)
	}
	return &p, nil
}

func (r *LedgerRepository) ListPurchases(ctx context.Context, userID int64, limit int) ([]models.Purchase, error) {
	const query = `
SELECT id, user_id, service_id, service_name, quantity, amount, total_price, currency, status, custom_id, purchase_date, created_at
FROM purchases WHERE user_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []models.Purchase
	for rows.Next() {
		var p models.Purchase
		if err := rows.Scan(&p.ID, &p.UserID, &p.ServiceID, &p.ServiceName, &p.Quantity, &p.Amount, &p.TotalPrice, &p.Currency, &p.Status, &p.CustomID, &p.PurchaseDate, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase list: %w", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

func (r *LedgerRepository) ListTransactions(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	const query = `
SELECT id, user_id, amount, type, status, payment_method, payment_details, created_at
FROM transactions WHERE user_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var (
			t       models.Transaction
			rawJSON []byte
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.Status, &t.PaymentMethod, &rawJSON, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction list: %w", err)
		}
		if len(rawJSON) > 0 {
			if err := json.Unmarshal(rawJSON, &t.Details); err != nil {
				return nil, fmt.Errorf("decode payment details: %w", err)
			}
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// debitBalance is the race guard: a single conditional UPDATE, never
// read-then-write. Zero affected rows means either an unknown user or not
// enough funds; the follow-up existence check tells them apart.
func debitBalance(ctx context.Context, tx *sql.Tx, userID int64, amount decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET balance = balance - ?, updated_at = NOW()
		 WHERE id = ? AND balance >= ?`,
		amount, userID, amount)
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("check user: %w", err)
		}
		return ErrInsufficientBalance
	}
	return nil
}

func insertPurchase(ctx context.Context, tx *sql.Tx, p *models.Purchase, method string, details models.PaymentDetails) error {
	if p.Status == "" {
		p.Status = models.PurchasePending
	}
	details.CustomID = p.CustomID

	res, err := tx.ExecContext(ctx,
		`INSERT INTO purchases (user_id, service_id, service_name, quantity, amount, total_price, currency, status, custom_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.ServiceID, p.ServiceName, p.Quantity, p.Amount, p.TotalPrice, p.Currency, p.Status, p.CustomID)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("purchase last insert id: %w", err)
	}
	p.ID = id

	if err := insertTransaction(ctx, tx, p.UserID, p.Amount, models.TransactionPurchase, transactionStatusFor(p.Status), method, details); err != nil {
		return err
	}

	if p.Status == models.PurchaseCompleted {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET total_spent = total_spent + ?, updated_at = NOW() WHERE id = ?`,
			p.Amount, p.UserID); err != nil {
			return fmt.Errorf("bump total_spent: %w", err)
		}
	}
	return nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, userID int64, amount decimal.Decimal, typ models.TransactionType, status models.TransactionStatus, method string, details models.PaymentDetails) error {
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode payment details: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (user_id, amount, type, status, payment_method, payment_details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		userID, amount, typ, status, method, encoded); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func transactionStatusFor(status models.PurchaseStatus) models.TransactionStatus {
	switch status {
	case models.PurchaseCompleted:
		return models.TransactionCompleted
	case models.PurchaseFailed:
		return models.TransactionFailed
	default:
		return models.TransactionPending
	}
}
