package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"spaces-summarizer/internal/api"
	"spaces-summarizer/internal/archive"
	"spaces-summarizer/internal/config"
	"spaces-summarizer/internal/lease"
	"spaces-summarizer/internal/ledger"
	"spaces-summarizer/internal/logging"
	"spaces-summarizer/internal/pipeline"
	"spaces-summarizer/internal/ratelimit"
	"spaces-summarizer/internal/store"
	"spaces-summarizer/internal/summarizer"
	"spaces-summarizer/internal/telegram"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := logging.New()
	defer func() { _ = logger.Sync() }()

	if cfg.TelegramToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.RecipientWallet == "" || cfg.TokenMint == "" {
		log.Fatal("RECIPIENT_WALLET and TOKEN_MINT are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	leases := lease.New(redisClient, cfg.LeaseTTL)
	limiter := ratelimit.New(redisClient, cfg.RateLimitCap, cfg.RateLimitRefill, time.Hour)

	rpc := ledger.NewRPCClient(cfg.SolanaRPCURL, cfg.HTTPTimeout)
	verifier := ledger.NewVerifier(rpc, st, cfg.RecipientWallet, cfg.TokenMint, cfg.PaymentWindow, logger)

	jobs := summarizer.NewClient(cfg.SummarizerBaseURL, cfg.SummarizerAPIKey, cfg.HTTPTimeout)
	poller := summarizer.NewPoller(jobs, cfg.PollInterval, cfg.PollCeiling, cfg.PollRetries, logger)

	archiver, err := archive.New(ctx, cfg.ArchiveS3Bucket, cfg.AWSRegion, "", logger)
	if err != nil {
		log.Fatalf("init archiver: %v", err)
	}

	tg := telegram.NewClient(cfg.TelegramAPIBase, cfg.TelegramToken, cfg.HTTPTimeout)
	orch := pipeline.NewOrchestrator(verifier, jobs, poller, st, leases, tg, archiver, cfg.Elevated, logger)
	bot := telegram.NewBot(tg, orch, limiter, cfg.RecipientWallet, cfg.PaymentWindow, cfg.Elevated, logger)

	// The operator API shares this process so it can see live pipeline
	// state. /metrics is mounted on the same router.
	operator := api.New(st, orch)
	go func() {
		if err := http.ListenAndServe(":"+cfg.HTTPPort, operator.Router()); err != nil {
			logger.Warnw("operator api stopped", "error", err)
		}
	}()

	logger.Infow("bot started",
		"poll_interval", cfg.PollInterval,
		"poll_ceiling", cfg.PollCeiling,
		"payment_window", cfg.PaymentWindow,
	)
	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorw("bot stopped", "error", err)
	}
}
