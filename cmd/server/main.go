package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fadilmartias/referral-escrow/internal/config"
	"github.com/fadilmartias/referral-escrow/internal/domain/fiber/handler"
	"github.com/fadilmartias/referral-escrow/internal/escrow"
	"github.com/fadilmartias/referral-escrow/internal/fraud"
	"github.com/fadilmartias/referral-escrow/internal/middleware"
	"github.com/fadilmartias/referral-escrow/internal/model"
	"github.com/fadilmartias/referral-escrow/internal/notification"
	"github.com/fadilmartias/referral-escrow/internal/repository"
	"github.com/fadilmartias/referral-escrow/internal/service"
	"github.com/fadilmartias/referral-escrow/internal/usecase"
	"github.com/fadilmartias/referral-escrow/internal/util"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// Load .env file
	ctx := context.Background()
	err := godotenv.Load()
	if err != nil {
		log.Println("Could not load .env file")
	}

	appConfig := config.LoadAppConfig()
	zlog, err := config.NewLogger()
	if err != nil {
		log.Fatalf("Could not build logger: %v", err)
	}
	defer zlog.Sync()

	app := fiber.New(fiber.Config{
		AppName: appConfig.Name,
		ErrorHandler: func(ctx *fiber.Ctx, err error) error {
			// Status code defaults to 500
			code := fiber.StatusInternalServerError

			// Retrieve the custom status code if it's a *fiber.Error
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}

			message := err.Error()
			if message == "" {
				message = "Internal Server Error"
			}

			return util.ErrorResponse(ctx, util.ErrorResponseFormat{Code: code, Message: message})
		},
	})
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
	}))
	// Use middleware
	app.Use(recover.New(recover.Config{
		EnableStackTrace: !appConfig.IsProduction(),
	}))

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed, // 1
	}))
	app.Use(pprof.New(pprof.Config{
		Next: func(c *fiber.Ctx) bool {
			return appConfig.IsProduction()
		},
	}))
	app.Use(healthcheck.New())

	app.Use(helmet.New(helmet.Config{
		CrossOriginResourcePolicy: "cross-origin",
	}))

	app.Use(middleware.RateLimiter(50, 1*time.Minute))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	db := ConnectDB(zlog)

	verificationRepo := repository.NewVerificationRepository(db)
	referralRepo := repository.NewReferralRepository(db)

	publisher, closePublisher := newPublisher(zlog)
	defer closePublisher()

	reasoner := service.NewReasoningService(newCompletionClient(ctx, zlog), config.LoadReasoningConfig().Timeout, zlog)
	settler := escrow.NewSettler(verificationRepo, newPayoutRail(zlog), publisher, zlog)

	escrowConfig := config.LoadEscrowConfig()
	uc := usecase.NewVerificationUsecase(
		verificationRepo,
		referralRepo,
		reasoner,
		fraud.NewScorer(),
		settler,
		publisher,
		usecase.Settings{
			PlatformFeeRate:   escrowConfig.PlatformFeeRate,
			DefaultReward:     escrowConfig.DefaultReward,
			AnalysisThreshold: escrowConfig.AnalysisThreshold,
		},
		zlog,
	)
	handler := handler.NewVerificationHandler(uc, appConfig.AdminAPIKey)

	handler.RegisterRoutes(app)

	// Monitor goroutine count
	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			zlog.Debug("runtime", zap.Int("goroutines", runtime.NumGoroutine()))
		}
	}()

	go func() {
		zlog.Info("Server running", zap.String("port", appConfig.Port))
		if err := app.Listen(appConfig.Port); err != nil {
			zlog.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		zlog.Error("shutdown failed", zap.Error(err))
	}
}

func newCompletionClient(ctx context.Context, zlog *zap.Logger) service.CompletionClient {
	switch provider := config.LoadReasoningConfig().Provider; provider {
	case "gemini":
		gemini, err := service.NewGeminiService(ctx, config.LoadGeminiConfig(), zlog)
		if err != nil {
			zlog.Warn("gemini unavailable, analyses will fall back to manual review", zap.Error(err))
			return nil
		}
		return gemini
	case "openrouter":
		return service.NewOpenRouterService(config.LoadOpenRouterConfig())
	case "none":
		return nil
	default:
		zlog.Warn("unknown reasoning provider, analyses will fall back to manual review", zap.String("provider", provider))
		return nil
	}
}

func newPayoutRail(zlog *zap.Logger) escrow.PayoutRail {
	cfg := config.LoadPayoutConfig()
	if cfg.URL == "" {
		if config.LoadAppConfig().IsProduction() {
			zlog.Fatal("PAYOUT_URL is required in production")
		}
		zlog.Warn("PAYOUT_URL not set, using simulated payouts")
		return service.NewSimulatedPayoutService()
	}
	return service.NewPayoutService(cfg)
}

func newPublisher(zlog *zap.Logger) (notification.Publisher, func()) {
	cfg := config.LoadKafkaConfig()
	if len(cfg.Brokers) == 0 {
		return notification.NewLogPublisher(zlog), func() {}
	}
	p := notification.NewKafkaPublisher(cfg.Brokers, cfg.NotificationTopic, zlog)
	return p, func() {
		if err := p.Close(); err != nil {
			zlog.Warn("closing kafka publisher", zap.Error(err))
		}
	}
}

func ConnectDB(zlog *zap.Logger) *gorm.DB {
	dbConfig := config.LoadDBConfig()
	appConfig := config.LoadAppConfig()

	db, err := gorm.Open(postgres.Open(dbConfig.DSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		zlog.Fatal("Could not connect to database", zap.Error(err))
	}
	pgDB, err := db.DB()
	if err != nil {
		zlog.Fatal("Could not get database instance", zap.Error(err))
	}
	if !appConfig.IsProduction() {
		pgDB.SetMaxIdleConns(5)
		pgDB.SetMaxOpenConns(10)
		pgDB.SetConnMaxLifetime(30 * time.Minute)
	} else {
		pgDB.SetMaxIdleConns(20)
		pgDB.SetMaxOpenConns(200)
		pgDB.SetConnMaxLifetime(time.Hour)
	}

	// migrasi tabel
	err = db.AutoMigrate(&model.Referral{}, &model.Verification{}, &model.Evidence{}, &model.TimelineEntry{})
	if err != nil {
		zlog.Fatal("migration failed", zap.Error(err))
	}
	return db
}
