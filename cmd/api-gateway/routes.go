package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/handler"
	"github.com/noah-isme/tutoring-api/internal/middleware"
	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/service"
	"github.com/noah-isme/tutoring-api/pkg/config"
	"github.com/noah-isme/tutoring-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/tutoring-api/pkg/middleware/cors"
	"github.com/noah-isme/tutoring-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/tutoring-api/pkg/middleware/requestid"
)

type routerDeps struct {
	auth          *service.AuthService
	metrics       *service.MetricsService
	sessions      *handler.SessionHandler
	availability  *handler.AvailabilityHandler
	feedback      *handler.FeedbackHandler
	audit         *handler.AuditHandler
	notifications *handler.NotificationHandler
	observability *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(d.metrics))

	r.GET("/health", d.observability.Health)
	r.GET("/ready", d.observability.Ready)
	r.GET("/metrics", d.observability.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	throttle := func(c *gin.Context) { c.Next() }
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
		throttle = limiter.Middleware(ratelimit.ClientIP, logr)
	}
	allow := middleware.RequirePermission

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(d.auth), middleware.RequestMeta())

	sessions := api.Group("/sessions")
	sessions.POST("", throttle, allow(models.OpSessionCreate), d.sessions.Create)
	sessions.GET("", allow(models.OpSessionRead), d.sessions.List)
	sessions.GET("/public", allow(models.OpSessionRead), d.sessions.ListPublic)
	sessions.GET("/:id", allow(models.OpSessionRead), d.sessions.Get)
	sessions.PUT("/invite/:id/:action", throttle, allow(models.OpSessionInvite), d.sessions.RespondInvite)
	sessions.PUT("/:id/confirm", throttle, allow(models.OpSessionConfirm), d.sessions.Confirm)
	sessions.PUT("/:id/reject", throttle, allow(models.OpSessionReject), d.sessions.Reject)
	sessions.POST("/:id/negotiate", throttle, allow(models.OpSessionNegotiate), d.sessions.Negotiate)
	sessions.PUT("/:id/negotiate/accept", throttle, allow(models.OpProposalRespond), d.sessions.AcceptProposal)
	sessions.PUT("/:id/negotiate/reject", throttle, allow(models.OpProposalRespond), d.sessions.RejectProposal)
	sessions.PUT("/:id/cancel", throttle, allow(models.OpSessionCancel), d.sessions.Cancel)
	sessions.POST("/:id/reschedule", throttle, allow(models.OpSessionReschedule), d.sessions.Reschedule)
	sessions.POST("/:id/join", throttle, allow(models.OpSessionJoin), d.sessions.Join)
	sessions.POST("/:id/leave", throttle, allow(models.OpSessionLeave), d.sessions.Leave)
	sessions.PUT("/:id/complete", throttle, allow(models.OpSessionComplete), d.sessions.Complete)
	sessions.PUT("/:id/attendance", throttle, allow(models.OpAttendanceMark), d.sessions.MarkAttendance)
	sessions.PUT("/:id/status", throttle, allow(models.OpSessionOverride), d.sessions.OverrideStatus)
	sessions.PATCH("/:id/location", throttle, allow(models.OpSessionEdit), d.sessions.UpdateLocation)
	sessions.PATCH("/:id/topic", throttle, allow(models.OpSessionEdit), d.sessions.UpdateTopic)
	sessions.POST("/:id/feedback", throttle, allow(models.OpFeedbackWrite), d.feedback.Create)
	sessions.GET("/:id/feedback", allow(models.OpFeedbackRead), d.feedback.List)

	api.POST("/availability", throttle, allow(models.OpAvailabilityWrite), d.availability.Create)
	api.DELETE("/availability/:id", throttle, allow(models.OpAvailabilityWrite), d.availability.Delete)
	api.GET("/tutors/:id/availability", allow(models.OpAvailabilityRead), d.availability.List)
	api.GET("/tutors/:id/feedback/summary", allow(models.OpFeedbackRead), d.feedback.Summary)

	api.GET("/audit-logs", allow(models.OpAuditRead), d.audit.List)
	api.GET("/reports/late-actions", allow(models.OpReportExport), d.audit.LateActions)

	api.GET("/notifications", allow(models.OpNotificationRead), d.notifications.List)
	api.PUT("/notifications/:id/read", throttle, allow(models.OpNotificationRead), d.notifications.MarkRead)

	return r
}
