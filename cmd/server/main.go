package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/giftstore/internal/api"
	"github.com/digkill/giftstore/internal/auth"
	"github.com/digkill/giftstore/internal/config"
	"github.com/digkill/giftstore/internal/database"
	"github.com/digkill/giftstore/internal/notify"
	"github.com/digkill/giftstore/internal/provider"
	"github.com/digkill/giftstore/internal/repository"
	"github.com/digkill/giftstore/internal/service"
	"github.com/digkill/giftstore/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	promoRepo := repository.NewPromoRepository(db)
	productRepo := repository.NewProductRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	verificationRepo := repository.NewVerificationRepository(db)

	gateways := provider.Registry{
		provider.Marketplace: provider.NewMarketplaceClient(provider.MarketplaceConfig{
			BaseURL:       cfg.MarketplaceBaseURL,
			Email:         cfg.MarketplaceEmail,
			APIKey:        cfg.MarketplaceAPIKey,
			OrderTimeout:  cfg.OrderTimeout,
			StatusTimeout: cfg.StatusTimeout,
		}, logr),
		provider.Fragment: provider.NewFragmentClient(provider.FragmentConfig{
			BaseURL:       cfg.FragmentBaseURL,
			APIKey:        cfg.FragmentAPIKey,
			OrderTimeout:  cfg.OrderTimeout,
			StatusTimeout: cfg.StatusTimeout,
		}, logr),
		provider.Cardgate: provider.NewCardgateClient(provider.CardgateConfig{
			BaseURL:       cfg.CardgateBaseURL,
			ShopID:        cfg.CardgateShopID,
			SecretKey:     cfg.CardgateSecretKey,
			OrderTimeout:  cfg.OrderTimeout,
			StatusTimeout: cfg.StatusTimeout,
		}, logr),
	}

	var botAPI *tgbotapi.BotAPI
	if cfg.TelegramBotToken != "" {
		botAPI, err = tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Fatalf("telegram bot: %v", err)
		}
	}
	notifier := notify.New(botAPI, userRepo, notify.Config{
		SMSBaseURL:   cfg.SMSBaseURL,
		SMSAPIKey:    cfg.SMSAPIKey,
		EmailBaseURL: cfg.EmailBaseURL,
		EmailAPIKey:  cfg.EmailAPIKey,
		EmailFrom:    cfg.EmailFrom,
	}, logr)

	userService := service.NewUserService(userRepo, ledgerRepo, verificationRepo, notifier, cfg.VerificationTTL, logr)
	catalogService := service.NewCatalogService(productRepo, settingsRepo)
	promoService := service.NewPromoService(promoRepo)
	orderService := service.NewOrderService(ledgerRepo, catalogService, catalogService, promoService, gateways, notifier, logr)

	tokens := auth.NewManager(cfg.JWTSecret, cfg.JWTTTL)

	server := api.NewServer(cfg.ListenAddr, logr, tokens, cfg.AdminUsername, cfg.AdminPasswordHash, userService, catalogService, promoService, orderService)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("api server stopped", "err", err)
	}
}
