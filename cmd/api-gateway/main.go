package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/tutoring-api/api/swagger"
	"github.com/noah-isme/tutoring-api/internal/handler"
	"github.com/noah-isme/tutoring-api/internal/repository"
	"github.com/noah-isme/tutoring-api/internal/service"
	"github.com/noah-isme/tutoring-api/pkg/cache"
	"github.com/noah-isme/tutoring-api/pkg/config"
	"github.com/noah-isme/tutoring-api/pkg/database"
	"github.com/noah-isme/tutoring-api/pkg/jobs"
	"github.com/noah-isme/tutoring-api/pkg/logger"
)

// @title Tutoring Session API
// @version 1.0.0
// @description Session booking and negotiation between students and tutors.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, public session cache disabled", zap.Error(err))
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	sessionRepo := repository.NewSessionRepository(db)
	slotRepo := repository.NewAvailabilityRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	checks := map[string]handler.Pinger{"postgres": db}
	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, "tutoring", logr)
		checks["redis"] = cache.Pinger{Client: redisClient}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.PublicSessionsTTL, logr, cfg.Cache.Enabled && cacheRepo != nil)

	notificationSvc := service.NewNotificationService(notificationRepo, logr)
	notificationQueue := jobs.NewQueue("notifications", notificationSvc.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.Retries,
		RetryDelay: time.Second,
		Logger:     logr,
	})
	notificationQueue.Start(ctx)
	notificationSvc.UseQueue(notificationQueue)

	sessionSvc := service.NewSessionService(sessionRepo, slotRepo, auditRepo, validate, logr, service.SessionServiceConfig{
		LateActionWindow:        cfg.Sessions.LateActionWindow,
		RequireNegotiationTopic: cfg.Sessions.RequireNegotiationTopic,
		ProposalTTL:             cfg.Sessions.ProposalTTL,
		PublicCacheTTL:          cfg.Cache.PublicSessionsTTL,
	},
		service.WithSessionNotifier(notificationSvc),
		service.WithSessionMetrics(metricsSvc),
		service.WithSessionCache(cacheSvc),
	)
	availabilitySvc := service.NewAvailabilityService(slotRepo, auditRepo, validate, logr)
	feedbackSvc := service.NewFeedbackService(feedbackRepo, sessionSvc, auditRepo, validate, logr)
	auditSvc := service.NewAuditService(auditRepo, logr)
	authSvc := service.NewAuthService(validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	scheduler := jobs.NewScheduler(logr, time.Minute)
	if cfg.Sessions.SweepEnabled {
		if err := scheduler.Add(cfg.Sessions.SweepSchedule, "session-sweep", sessionSvc.Sweep); err != nil {
			logr.Fatal("invalid sweep schedule", zap.Error(err))
		}
		scheduler.Start()
	}

	router := newRouter(cfg, logr, routerDeps{
		auth:          authSvc,
		metrics:       metricsSvc,
		sessions:      handler.NewSessionHandler(sessionSvc),
		availability:  handler.NewAvailabilityHandler(availabilitySvc),
		feedback:      handler.NewFeedbackHandler(feedbackSvc),
		audit:         handler.NewAuditHandler(auditSvc),
		notifications: handler.NewNotificationHandler(notificationSvc),
		observability: handler.NewMetricsHandler(metricsSvc, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown failed", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
	notificationQueue.Stop()
	if redisClient != nil {
		_ = redisClient.Close()
	}
}
