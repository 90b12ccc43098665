package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/giftstore/internal/models"
	"github.com/digkill/giftstore/internal/repository"
)

const sendTimeout = 15 * time.Second

// Notifier delivers order confirmations to Telegram users and one-time codes
// over SMS or email. Every delivery is best effort; the shop never blocks on
// a notification.
type Notifier struct {
	bot   *tgbotapi.BotAPI
	users *repository.UserRepository
	sms   *resty.Client
	email *resty.Client
	from  string
	log   *slog.Logger
}

type Config struct {
	SMSBaseURL   string
	SMSAPIKey    string
	EmailBaseURL string
	EmailAPIKey  string
	EmailFrom    string
}

func New(bot *tgbotapi.BotAPI, users *repository.UserRepository, cfg Config, log *slog.Logger) *Notifier {
	n := &Notifier{bot: bot, users: users, from: cfg.EmailFrom, log: log}
	if cfg.SMSBaseURL != "" {
		n.sms = resty.New().
			SetBaseURL(cfg.SMSBaseURL).
			SetTimeout(sendTimeout).
			SetAuthToken(cfg.SMSAPIKey)
	}
	if cfg.EmailBaseURL != "" {
		n.email = resty.New().
			SetBaseURL(cfg.EmailBaseURL).
			SetTimeout(sendTimeout).
			SetAuthToken(cfg.EmailAPIKey)
	}
	return n
}

// OrderCompleted tells the buyer their purchase is fulfilled. Only users who
// signed in through Telegram can be reached.
func (n *Notifier) OrderCompleted(ctx context.Context, userID int64, p *models.Purchase) {
	if n.bot == nil {
		return
	}
	user, err := n.users.GetByID(ctx, userID)
	if err != nil {
		n.log.Error("load user for notification", "user_id", userID, "err", err)
		return
	}
	if user == nil || user.TelegramID == nil {
		return
	}

	text := fmt.Sprintf("Your order is ready!\n\n%s x%d\nOrder: %s", p.ServiceName, p.Quantity, p.CustomID)
	msg := tgbotapi.NewMessage(*user.TelegramID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.log.Error("send telegram notification", "user_id", userID, "err", err)
	}
}

// SendCode routes the verification code to SMS for phone logins and to email
// otherwise.
func (n *Notifier) SendCode(ctx context.Context, typ models.AuthType, identifier, code string) error {
	switch typ {
	case models.AuthPhone:
		return n.sendSMS(ctx, identifier, code)
	case models.AuthEmail:
		return n.sendEmail(ctx, identifier, code)
	default:
		return fmt.Errorf("no code channel for auth type %q", typ)
	}
}

func (n *Notifier) sendSMS(ctx context.Context, phone, code string) error {
	if n.sms == nil {
		return fmt.Errorf("sms gateway is not configured")
	}
	resp, err := n.sms.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"to":   phone,
			"text": "Your login code: " + code,
		}).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("send sms: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

func (n *Notifier) sendEmail(ctx context.Context, email, code string) error {
	if n.email == nil {
		return fmt.Errorf("email gateway is not configured")
	}
	resp, err := n.email.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"from":    n.from,
			"to":      email,
			"subject": "Your login code",
			"text":    "Your login code: " + code,
		}).
		Post("/send")
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("send email: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
