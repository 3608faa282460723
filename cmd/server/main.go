package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/joho/godotenv"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/api/handlers"
	"github.com/maheshrc27/crosspost/internal/api/middleware"
	job "github.com/maheshrc27/crosspost/internal/jobs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const keepAliveInterval = 10 * time.Minute

func main() {
	envErr := godotenv.Load()

	cfg := config.LoadConfig()
	setupLogger(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file loaded")
	}

	if cfg.SecretKey == "" {
		key, err := utils.GenerateRandomKey(32)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to generate secret key")
		}
		cfg.SecretKey = key
		log.Warn().Msg("APP_SECRET_KEY is not set, generated an ephemeral key; API tokens will not survive a restart")
	}

	ctx := context.Background()

	db, err := repository.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer closeDB(db)
	log.Info().Str("dialect", string(db.Dialect)).Msg("database ready")

	var store service.ObjectStore
	if cfg.R2Configured() {
		r2, err := service.NewR2Service(ctx, cfg.R2)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialise R2")
		}
		store = r2
	} else {
		log.Warn().Msg("R2 is not configured, r2:// media and public staging are unavailable")
	}

	workItemRepo := repository.NewWorkItemRepository(db)

	mediaService := service.NewMediaService(cfg.MediaDir, cfg.MediaDownloadTimeout, store)
	notifier := service.NewNotificationService(service.NotifierConfig{
		DiscordWebhookURL: cfg.DiscordWebhookURL,
		TelegramBotToken:  cfg.Telegram.BotToken,
		TelegramChatID:    cfg.Telegram.ChatID,
	})

	postingService := service.NewPostingService(service.PostingConfig{
		Platforms:      buildPlatforms(cfg, mediaService),
		MaxAttempts:    cfg.MaxRetries,
		Backoff:        cfg.RetryBackoff,
		PublishTimeout: cfg.PublishTimeout,
	}, workItemRepo, service.NewCaptionService(), mediaService, notifier)
	workItemService := service.NewWorkItemService(workItemRepo, cfg.UploadDir)

	var keepAlive *job.KeepAliveJob
	if cfg.KeepAliveURL != "" {
		keepAlive = job.NewKeepAliveJob(cfg.KeepAliveURL)
	}
	scheduler := job.NewScheduler(job.SchedulerConfig{
		PollInterval:      cfg.PollInterval,
		CleanupInterval:   cfg.UploadCleanupInterval,
		KeepAliveInterval: keepAliveInterval,
	}, postingService, job.NewUploadCleanupJob(cfg.UploadDir, cfg.UploadRetention), keepAlive)

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    500 * 1024 * 1024, // 500 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			log.Error().Err(err).Str("path", c.Path()).Msg("unhandled request error")
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.FrontendURL,
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + middleware.AuthKeyHeader,
		MaxAge:       3600,
	}))

	health := handlers.NewHealthHandler(scheduler)
	app.Get("/health", health.Health)
	app.Get("/healthz", health.Health)

	auth := handlers.NewAuthHandler(*cfg)
	app.Post("/auth/token", auth.IssueToken)

	authMiddleware := middleware.NewAuthMiddleware(*cfg)
	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	items := handlers.NewWorkItemHandler(workItemService)
	api.Post("/items", items.CreateWorkItem)
	api.Post("/items/bulk", items.CreateBulk)
	api.Get("/items", items.ListWorkItems)
	api.Get("/items/:id", items.GetWorkItem)
	api.Patch("/items/:id", items.UpdateStatus)
	api.Post("/items/:id/retry", items.RetryWorkItem)
	api.Delete("/items/:id", items.RemoveWorkItem)
	api.Post("/webhook/post", items.Webhook)
	api.Get("/analytics", items.GetAnalytics)

	platform := handlers.NewPlatformHandler(*cfg, service.NewTokenHealthService(*cfg))
	api.Get("/platforms", platform.ListPlatforms)
	api.Get("/health/tokens", platform.TokenHealth)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	log.Info().Str("port", cfg.Port).Msg("server is running")

	if err := scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	gracefulShutdown(app, scheduler)
}

// buildPlatforms assembles the dispatch table in the fixed platform order.
func buildPlatforms(cfg *config.Config, media *service.MediaService) []service.PlatformEntry {
	entries := make([]service.PlatformEntry, 0, len(models.Platforms))
	for _, p := range models.Platforms {
		entry := service.PlatformEntry{Platform: p, Configured: cfg.PlatformConfigured(p)}
		if !entry.Configured {
			log.Info().Str("platform", string(p)).Msg("platform not configured, will be skipped")
			entries = append(entries, entry)
			continue
		}

		switch p {
		case models.PlatformLinkedIn:
			entry.Publisher = service.NewLinkedInService(cfg.LinkedIn)
		case models.PlatformInstagram:
			entry.Publisher = service.NewInstagramService(cfg.Meta, media)
		case models.PlatformFacebook:
			entry.Publisher = service.NewFacebookService(cfg.Meta, nil)
		case models.PlatformYoutube:
			entry.Publisher = service.NewYoutubeService(cfg.Youtube)
		case models.PlatformX:
			entry.Publisher = service.NewXService(cfg.X)
		case models.PlatformTelegram:
			pub, err := service.NewTelegramChannelService(cfg.Telegram)
			if err != nil {
				log.Error().Err(err).Msg("failed to initialise Telegram channel publisher, skipping it")
				entry.Configured = false
				break
			}
			entry.Publisher = pub
		case models.PlatformReddit:
			entry.Publisher = service.NewRedditService(cfg.Reddit, nil)
		}
		log.Info().Str("platform", string(p)).Bool("configured", entry.Configured).Msg("platform registered")
		entries = append(entries, entry)
	}
	return entries
}

func setupLogger(level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	}
}

func closeDB(db *repository.DB) {
	log.Info().Msg("closing database connection")
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}
}

func gracefulShutdown(app *fiber.App, scheduler *job.Scheduler) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Info().Msg("shutting down server")

	if err := app.Shutdown(); err != nil {
		log.Error().Err(err).Msg("failed to shut down server")
	}
	scheduler.Stop()

	log.Info().Msg("server shutdown complete")
}
