package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/giftstore/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, telegram_id, COALESCE(username, ''), COALESCE(email, ''), COALESCE(phone, ''), balance, total_spent, auth_type, pwa_instruction_shown, created_at, updated_at`

func scanUser(row *sql.Row) (*models.User, error) {
	var (
		u          models.User
		telegramID sql.NullInt64
		shown      int
	)
	if err := row.Scan(&u.ID, &telegramID, &u.Username, &u.Email, &u.Phone, &u.Balance, &u.TotalSpent, &u.AuthType, &shown, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if telegramID.Valid {
		u.TelegramID = &telegramID.Int64
	}
	u.PWAInstructionShown = shown != 0
	return &u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, telegramID)
	return scanUser(row)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (r *UserRepository) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone = ?`, phone)
	return scanUser(row)
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	const query = `
INSERT INTO users (telegram_id, username, email, phone, auth_type)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?)`
	var telegramID any
	if user.TelegramID != nil {
		telegramID = *user.TelegramID
	}
	res, err := r.db.ExecContext(ctx, query, telegramID, user.Username, user.Email, user.Phone, user.AuthType)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepository) SetPWAInstructionShown(ctx context.Context, userID int64) error {
	const query = `UPDATE users SET pwa_instruction_shown = 1, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("set pwa instruction shown: %w", err)
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var (
			u          models.User
			telegramID sql.NullInt64
			shown      int
		)
		if err := rows.Scan(&u.ID, &telegramID, &u.Username, &u.Email, &u.Phone, &u.Balance, &u.TotalSpent, &u.AuthType, &shown, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user list: %w", err)
		}
		if telegramID.Valid {
			u.TelegramID = &telegramID.Int64
		}
		u.PWAInstructionShown = shown != 0
		users = append(users, u)
	}
	return users, rows.Err()
}
