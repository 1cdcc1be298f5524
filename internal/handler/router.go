package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/httpmiddleware"
	"github.com/campuscheck/attendance/internal/members"
	"github.com/campuscheck/attendance/internal/metrics"
)

// RouterConfig carries the HTTP settings the router needs.
type RouterConfig struct {
	AllowOrigins    []string
	RateLimitPerMin int
}

// NewRouter wires the middleware stack and every route.
func NewRouter(h *Handler, cfg RouterConfig, log *zap.Logger) *gin.Engine {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := members.RegisterValidation(v); err != nil {
			log.Warn("memberid validation not registered", zap.Error(err))
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.Logger(log, "/healthz", "/metrics"))
	r.Use(httpmiddleware.CORS(cfg.AllowOrigins))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(metrics.GinMiddleware())
	// push cameras upload frames continuously, so they are not rate limited
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).
		GinMiddleware("/healthz", "/metrics", "/api/capture/cameras/:name/frames"))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Health.Check)

	api := r.Group("/api")
	{
		users := api.Group("/users")
		{
			users.GET("", h.Member.Get)
			users.POST("", h.Member.Create)
			users.PUT("", h.Member.Update)
			users.DELETE("", h.Member.Delete)
		}

		events := api.Group("/events")
		{
			events.GET("", h.Event.Get)
			events.POST("", h.Event.Create)
			events.PUT("", h.Event.Update)
			events.DELETE("", h.Event.Delete)
		}

		att := api.Group("/attendance")
		{
			att.GET("", h.Attendance.List)
			att.POST("", h.Attendance.Record)
		}

		reports := api.Group("/reports")
		{
			reports.GET("/attendance", h.Report.Attendance)
			reports.GET("/dashboard", h.Report.Dashboard)
		}

		capture := api.Group("/capture")
		{
			capture.POST("/sessions", h.Capture.Start)
			capture.GET("/sessions/:id", h.Capture.Get)
			capture.POST("/sessions/:id/confirm", h.Capture.Confirm)
			capture.POST("/sessions/:id/retry", h.Capture.Retry)
			capture.DELETE("/sessions/:id", h.Capture.Cancel)
			capture.POST("/cameras/:name/frames", h.Capture.PushFrame)
		}
	}
	return r
}
