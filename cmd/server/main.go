// Package main runs the society portal HTTP API with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/medsociety/portal/config"
	"github.com/medsociety/portal/internal/auth"
	"github.com/medsociety/portal/internal/banners"
	"github.com/medsociety/portal/internal/events"
	"github.com/medsociety/portal/internal/memberships"
	"github.com/medsociety/portal/internal/middleware"
	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/internal/notify"
	"github.com/medsociety/portal/internal/payments"
	"github.com/medsociety/portal/internal/registrations"
	"github.com/medsociety/portal/pkg/database"
	"github.com/medsociety/portal/pkg/mq"
	"github.com/medsociety/portal/pkg/queue"
	"github.com/medsociety/portal/pkg/redis"
	"github.com/medsociety/portal/pkg/response"
	"github.com/medsociety/portal/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Object storage is optional; handlers answer 503 for uploads without it.
	var (
		materialStore events.ObjectStore
		bannerStore   banners.ObjectStore
	)
	if cfg.AWS.Region != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			MaterialsBucket:      cfg.AWS.MaterialsBucket,
			BannersBucket:        cfg.AWS.BannersBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			materialStore, bannerStore = s3Client, s3Client
		}
	}

	var publisher registrations.Publisher = mq.Noop{}
	if cfg.AMQP.URL != "" {
		p, err := mq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			logger.Warn("rabbitmq disabled", zap.Error(err))
		} else {
			defer p.Close()
			publisher = p
		}
	}

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		logger.Fatal("payment gateway", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Auth
	userRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(userRepo, jwtService, logger)

	// Events
	eventRepo := events.NewRepository(pool)
	eventHandler := events.NewHandler(eventRepo, materialStore, cfg.Payment.Currency, logger)

	// Registrations
	registrationRepo := registrations.NewRepository(pool)
	registrationSvc := registrations.NewService(registrationRepo, jobQueue, publisher, logger)
	registrationHandler := registrations.NewHandler(registrationSvc, logger)

	// Memberships
	membershipRepo := memberships.NewRepository(pool)
	membershipSvc := memberships.NewService(membershipRepo, cfg.Membership.Fees, jobQueue, publisher, logger)
	membershipHandler := memberships.NewHandler(membershipSvc, logger)

	// Payments
	paymentSvc := payments.NewService(gateway, registrationSvc, membershipSvc, eventRepo,
		payments.NewAttemptRepository(pool), payments.NewRedisBus(rdb.Client, logger),
		payments.ServiceConfig{
			Currency: cfg.Payment.Currency,
			Poll: payments.PollerConfig{
				Interval: time.Duration(cfg.Payment.PollIntervalSec) * time.Second,
				Timeout:  time.Duration(cfg.Payment.PollTimeoutMinutes) * time.Minute,
			},
		}, logger)
	paymentHandler := payments.NewHandler(paymentSvc, logger)
	upgrader := payments.NewUpgrader(strings.Split(cfg.Server.CORSAllowedOrigins, ","))

	// Banners
	bannerHandler := banners.NewHandler(banners.NewRepository(pool), bannerStore, logger)

	// Email logs
	emailHandler := notify.NewHandler(notify.NewLogRepository(pool), registrationSvc, jobQueue, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Public and guest-friendly routes
	router.GET("/events", eventHandler.List)
	router.GET("/events/:id", eventHandler.GetByID)
	router.GET("/events/:id/material", eventHandler.Material)
	router.POST("/events/:id/registrations", middleware.OptionalJWT(jwtService), registrationHandler.Register)
	router.GET("/events/:id/registrations/check", registrationHandler.Check)
	router.GET("/banners", bannerHandler.ListActive)
	router.GET("/memberships/categories", membershipHandler.Categories)
	router.POST("/memberships", middleware.OptionalJWT(jwtService), membershipHandler.Apply)
	router.GET("/memberships/:id", membershipHandler.Get)

	// Payments
	router.POST("/registrations/:id/payment", paymentHandler.InitiateRegistration)
	router.PATCH("/registrations/:id/payment", paymentHandler.ConfirmRegistration)
	router.POST("/memberships/:id/payment", paymentHandler.InitiateMembership)
	router.GET("/payments/callback", paymentHandler.Callback)
	router.GET("/payments/:trackingId/status", paymentHandler.Status)
	router.DELETE("/payments/:trackingId/watch", paymentHandler.StopWatching)
	router.GET("/ws/payments/:trackingId", paymentHandler.Watch(upgrader))

	// Gateway notifications (no JWT; every notification is re-verified with the gateway)
	router.GET("/webhooks/payments", paymentHandler.Webhook)
	router.POST("/webhooks/payments", paymentHandler.Webhook)

	// Member routes
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/events/:id/registrations/me", registrationHandler.Me)
	}

	// Admin routes
	admin := router.Group("/admin")
	admin.Use(middleware.JWT(jwtService), middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/users", authHandler.List)
		admin.PATCH("/users/:id/role", authHandler.UpdateRole)

		admin.POST("/events", eventHandler.Create)
		admin.PATCH("/events/:id", eventHandler.Update)
		admin.DELETE("/events/:id", eventHandler.Delete)
		admin.POST("/events/:id/material", eventHandler.UploadMaterial)
		admin.GET("/events/:id/registrations", registrationHandler.ListByEvent)
		admin.PATCH("/registrations/:id/attendance", registrationHandler.SetAttendance)
		admin.GET("/events/:id/emails", emailHandler.ListByEvent)
		admin.POST("/events/:id/emails/resend", emailHandler.Resend)

		admin.GET("/memberships", membershipHandler.List)
		admin.PATCH("/memberships/:id/review", membershipHandler.Review)

		admin.GET("/banners", bannerHandler.ListAll)
		admin.POST("/banners", bannerHandler.Upload)
		admin.PATCH("/banners/:id", bannerHandler.Update)
		admin.DELETE("/banners/:id", bannerHandler.Delete)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("payment_provider", cfg.Payment.Provider))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	paymentSvc.Shutdown()
	logger.Info("server stopped")
}

func newGateway(cfg *config.Config, logger *zap.Logger) (payments.Gateway, error) {
	switch cfg.Payment.Provider {
	case "omise":
		return payments.NewOmiseGateway(payments.OmiseConfig{
			PublicKey:   cfg.Payment.Omise.PublicKey,
			SecretKey:   cfg.Payment.Omise.SecretKey,
			SourceType:  cfg.Payment.Omise.SourceType,
			CallbackURL: cfg.Payment.CallbackURL,
		}, logger)
	default:
		return payments.NewPesapalGateway(payments.PesapalConfig{
			BaseURL:        cfg.Payment.Pesapal.BaseURL,
			ConsumerKey:    cfg.Payment.Pesapal.ConsumerKey,
			ConsumerSecret: cfg.Payment.Pesapal.ConsumerSecret,
			IPNID:          cfg.Payment.Pesapal.IPNID,
			CallbackURL:    cfg.Payment.CallbackURL,
		}, nil, logger), nil
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
