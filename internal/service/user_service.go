package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/giftstore/internal/models"
	"github.com/digkill/giftstore/internal/repository"
)

// CodeSender delivers a verification code over the channel matching the auth
// type (SMS for phone, email otherwise).
type CodeSender interface {
	SendCode(ctx context.Context, typ models.AuthType, identifier, code string) error
}

const defaultHistoryLimit = 50

// UserService handles identity: find-or-create per auth channel, code
// verification for phone and email, and account reads.
type UserService struct {
	users        *repository.UserRepository
	ledger       *repository.LedgerRepository
	verification *repository.VerificationRepository
	sender       CodeSender
	codeTTL      time.Duration
	log          *slog.Logger
}

func NewUserService(users *repository.UserRepository, ledger *repository.LedgerRepository, verification *repository.VerificationRepository, sender CodeSender, codeTTL time.Duration, log *slog.Logger) *UserService {
	return &UserService{
		users:        users,
		ledger:       ledger,
		verification: verification,
		sender:       sender,
		codeTTL:      codeTTL,
		log:          log,
	}
}

// AuthTelegram logs a Telegram user in, creating the account on first
// contact. Telegram identity needs no verification code, the bot platform
// already authenticated the user.
func (s *UserService) AuthTelegram(ctx context.Context, telegramID int64, username string) (*models.User, error) {
	user, err := s.users.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("find user by telegram id: %w", err)
	}
	if user != nil {
		return user, nil
	}
	created, err := s.users.Create(ctx, &models.User{
		TelegramID: &telegramID,
		Username:   username,
		AuthType:   models.AuthTelegram,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram user: %w", err)
	}
	return created, nil
}

// RequestVerification issues a one-time code for a phone or email login and
// sends it over the matching channel. A new request supersedes any code
// issued earlier for the same identifier.
func (s *UserService) RequestVerification(ctx context.Context, typ models.AuthType, identifier string) error {
	identifier = normalizeIdentifier(typ, identifier)
	if identifier == "" {
		return fmt.Errorf("empty identifier: %w", ErrInvalidInput)
	}
	if typ != models.AuthPhone && typ != models.AuthEmail {
		return fmt.Errorf("auth type %q does not use codes: %w", typ, ErrInvalidInput)
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	if err := s.verification.Store(ctx, identifier, code, typ, s.codeTTL); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}
	if err := s.sender.SendCode(ctx, typ, identifier, code); err != nil {
		return fmt.Errorf("send verification code: %w", err)
	}

	if err := s.verification.PurgeExpired(ctx); err != nil {
		s.log.Warn("purge expired verification codes", "err", err)
	}
	return nil
}

// ConfirmVerification consumes the code and returns the matching user,
// creating the account on first login.
func (s *UserService) ConfirmVerification(ctx context.Context, typ models.AuthType, identifier, code string) (*models.User, error) {
	identifier = normalizeIdentifier(typ, identifier)
	if identifier == "" || code == "" {
		return nil, fmt.Errorf("identifier and code are required: %w", ErrInvalidInput)
	}

	ok, err := s.verification.Consume(ctx, identifier, code)
	if err != nil {
		return nil, fmt.Errorf("consume verification code: %w", err)
	}
	if !ok {
		return nil, ErrVerificationFailed
	}

	var user *models.User
	switch typ {
	case models.AuthEmail:
		user, err = s.users.FindByEmail(ctx, identifier)
	case models.AuthPhone:
		user, err = s.users.FindByPhone(ctx, identifier)
	default:
		return nil, fmt.Errorf("auth type %q does not use codes: %w", typ, ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	created := &models.User{AuthType: typ}
	if typ == models.AuthEmail {
		created.Email = identifier
	} else {
		created.Phone = identifier
	}
	user, err = s.users.Create(ctx, created)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *UserService) Profile(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *UserService) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (s *UserService) Transactions(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	return s.ledger.ListTransactions(ctx, userID, limit)
}

func (s *UserService) Purchases(ctx context.Context, userID int64, limit int) ([]models.Purchase, error) {
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	return s.ledger.ListPurchases(ctx, userID, limit)
}

// MarkPWAInstructionShown flips the one-time install-hint flag.
func (s *UserService) MarkPWAInstructionShown(ctx context.Context, userID int64) error {
	return s.users.SetPWAInstructionShown(ctx, userID)
}

func (s *UserService) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	return s.users.List(ctx, limit, offset)
}

// SetBalance is the admin override. The ledger writes the correcting
// transaction itself.
func (s *UserService) SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("balance must not be negative: %w", ErrInvalidInput)
	}
	if err := s.ledger.SetBalance(ctx, userID, balance); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

func normalizeIdentifier(typ models.AuthType, identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if typ == models.AuthEmail {
		identifier = strings.ToLower(identifier)
	}
	return identifier
}

// generateCode returns a 6-digit one-time code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
