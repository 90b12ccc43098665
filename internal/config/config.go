package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the storefront API and the
// outbound provider clients.
type Config struct {
	ListenAddr string
	MySQLDSN   string

	JWTSecret string
	JWTTTL    time.Duration

	AdminUsername     string
	AdminPasswordHash string

	// Marketplace is the generic gifts/top-up provider.
	MarketplaceBaseURL string
	MarketplaceEmail   string
	MarketplaceAPIKey  string

	// Fragment is the Telegram Stars/Premium resale provider.
	FragmentBaseURL string
	FragmentAPIKey  string

	// Cardgate is the card payment gateway.
	CardgateBaseURL   string
	CardgateShopID    string
	CardgateSecretKey string

	// Order creation can legitimately take minutes on the provider side;
	// status polling should fail fast.
	OrderTimeout  time.Duration
	StatusTimeout time.Duration

	TelegramBotToken string
	SMSBaseURL       string
	SMSAPIKey        string
	EmailBaseURL     string
	EmailAPIKey      string
	EmailFrom        string

	VerificationTTL time.Duration
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:         getEnv("LISTEN_ADDR", ":8080"),
		JWTTTL:             getDuration("JWT_TTL", 24*time.Hour),
		AdminUsername:      getEnv("ADMIN_USERNAME", "admin"),
		MarketplaceBaseURL: getEnv("MARKETPLACE_BASE_URL", "https://api.giftsmarket.example"),
		FragmentBaseURL:    getEnv("FRAGMENT_BASE_URL", "https://api.fragment-resale.example"),
		CardgateBaseURL:    getEnv("CARDGATE_BASE_URL", "https://pay.cardgate.example"),
		OrderTimeout:       getDuration("ORDER_TIMEOUT", 5*time.Minute),
		StatusTimeout:      getDuration("STATUS_TIMEOUT", 30*time.Second),
		SMSBaseURL:         getEnv("SMS_BASE_URL", ""),
		EmailBaseURL:       getEnv("EMAIL_BASE_URL", ""),
		EmailFrom:          getEnv("EMAIL_FROM", "no-reply@giftstore.local"),
		VerificationTTL:    getDuration("VERIFICATION_TTL", 10*time.Minute),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.AdminPasswordHash = os.Getenv("ADMIN_PASSWORD_HASH")
	cfg.MarketplaceEmail = os.Getenv("MARKETPLACE_EMAIL")
	cfg.MarketplaceAPIKey = os.Getenv("MARKETPLACE_API_KEY")
	cfg.FragmentAPIKey = os.Getenv("FRAGMENT_API_KEY")
	cfg.CardgateShopID = os.Getenv("CARDGATE_SHOP_ID")
	cfg.CardgateSecretKey = os.Getenv("CARDGATE_SECRET_KEY")
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.SMSAPIKey = os.Getenv("SMS_API_KEY")
	cfg.EmailAPIKey = os.Getenv("EMAIL_API_KEY")

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.AdminPasswordHash == "" {
		missing = append(missing, "ADMIN_PASSWORD_HASH")
	}
	if cfg.MarketplaceAPIKey == "" {
		missing = append(missing, "MARKETPLACE_API_KEY")
	}
	if cfg.FragmentAPIKey == "" {
		missing = append(missing, "FRAGMENT_API_KEY")
	}
	if cfg.CardgateShopID == "" {
		missing = append(missing, "CARDGATE_SHOP_ID")
	}
	if cfg.CardgateSecretKey == "" {
		missing = append(missing, "CARDGATE_SECRET_KEY")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}

	// No env file is fine when everything comes from the environment.
	if strings.TrimSpace(os.Getenv("MYSQL_DSN")) != "" {
		return nil
	}
	return fmt.Errorf("env file not found; tried %v", candidates)
}
