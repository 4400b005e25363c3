package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGImagineBot/internal/config"
	"github.com/digkill/TGImagineBot/internal/database"
	"github.com/digkill/TGImagineBot/internal/repository"
	"github.com/digkill/TGImagineBot/internal/service"
	"github.com/digkill/TGImagineBot/internal/storage"
	"github.com/digkill/TGImagineBot/internal/telegram"
	"github.com/digkill/TGImagineBot/internal/webhook"
	"github.com/digkill/TGImagineBot/internal/worker"
	"github.com/digkill/TGImagineBot/pkg/logger"
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

	botAPI, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, &http.Client{Timeout: cfg.RequestTimeout})
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	generationRepo := repository.NewGenerationRepository(db)

	credits := service.NewCreditService(logr, userRepo, paymentRepo, cfg.DefaultCredits)
	gateway := telegram.NewGateway(botAPI)
	dispatcher := worker.NewClient(cfg.WorkerBaseURL, cfg.WorkerSubmitPath, cfg.WorkerAPIKey, cfg.RequestTimeout, logr)

	var archiver webhook.Archiver
	if cfg.ArchiveEnabled() {
		uploader, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		archiver = uploader
	}

	server := webhook.NewServer(cfg, logr, credits, gateway, dispatcher, generationRepo, archiver)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("webhook server stopped", "err", err)
	}
}
