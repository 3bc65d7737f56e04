package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/asiabot/asiabot/internal/account"
	"github.com/asiabot/asiabot/internal/bot"
	"github.com/asiabot/asiabot/internal/carrier"
	"github.com/asiabot/asiabot/internal/config"
	"github.com/asiabot/asiabot/internal/infra"
	"github.com/asiabot/asiabot/internal/logging"
	"github.com/asiabot/asiabot/internal/login"
	"github.com/asiabot/asiabot/internal/ocr"
	"github.com/asiabot/asiabot/internal/recharge"
	"github.com/asiabot/asiabot/internal/refresh"
	"github.com/asiabot/asiabot/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	repo := account.NewPostgresRepository(db)

	proxies := carrier.LoadProxyPool(cfg.ProxyFile, logger)
	gateway := carrier.NewClient(carrier.Options{
		BaseURL: cfg.CarrierBaseURL,
		APIKey:  cfg.CarrierAPIKey,
		Proxies: proxies,
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
	})

	tg, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logger.Error("connect telegram", "error", err)
		os.Exit(1)
	}
	logger.Info("telegram authorized", "bot", tg.Self.UserName)

	notifier := bot.NewNotifier(tg)

	loginSvc := login.NewService(gateway, repo, login.NewRedisSessionStore(cache), logger)
	rechargeSvc := recharge.NewService(repo, gateway, recharge.NewRedisLocker(cache), cfg.SettleDelay, logger)

	scheduler := refresh.NewScheduler(repo, gateway, notifier, cfg.RefreshInterval, cfg.BalanceInterval, logger)
	scheduler.Start()
	defer scheduler.Stop()

	var extractor ocr.TextExtractor = ocr.Disabled{}
	if cfg.OCRAPIKey != "" {
		extractor = ocr.NewSpaceClient(cfg.OCRAPIKey, 60*time.Second)
	}

	b := bot.New(tg, bot.Deps{
		Login:    loginSvc,
		Recharge: rechargeSvc,
		Accounts: repo,
		OCR:      extractor,
		Limiter:  bot.NewRedisRateLimiter(cache, 5),
		AdminID:  cfg.AdminID,
		Logger:   logger,
	})

	botCtx, stopBot := context.WithCancel(ctx)
	defer stopBot()

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 60
	updates := tg.GetUpdatesChan(updateCfg)

	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		b.Run(botCtx, updates)
	}()

	srv, err := server.New(cfg, db, cache, repo, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	tg.StopReceivingUpdates()
	stopBot()
	<-botDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("bot exited cleanly")
}
