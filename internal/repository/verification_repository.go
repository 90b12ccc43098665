package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/giftstore/internal/models"
)

type VerificationRepository struct {
	db *sql.DB
}

func NewVerificationRepository(db *sql.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// Store replaces any previous code for the identifier so only the latest one
// can be verified.
func (r *VerificationRepository) Store(ctx context.Context, identifier, code string, typ models.AuthType, ttl time.Duration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM verification_codes WHERE identifier = ?`, identifier); err != nil {
		return fmt.Errorf("clear verification codes: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO verification_codes (identifier, code, type, expires_at) VALUES (?, ?, ?, ?)`,
		identifier, code, typ, time.Now().Add(ttl)); err != nil {
		return fmt.Errorf("insert verification code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit verification code: %w", err)
	}
	return nil
}

// Consume validates and deletes the code in one unit; an expired or unknown
// code reports false.
func (r *VerificationRepository) Consume(ctx context.Context, identifier, code string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM verification_codes
		 WHERE identifier = ? AND code = ? AND expires_at > NOW() FOR UPDATE`,
		identifier, code).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("find verification code: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM verification_codes WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("delete verification code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit verification consume: %w", err)
	}
	return true, nil
}

// PurgeExpired drops stale codes; callers run it opportunistically.
func (r *VerificationRepository) PurgeExpired(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM verification_codes WHERE expires_at <= NOW()`); err != nil {
		return fmt.Errorf("purge verification codes: %w", err)
	}
	return nil
}
