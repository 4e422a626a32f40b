package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Proctor   *handler.ProctorHandler
	Violation *handler.ViolationHandler
	Progress  *handler.ProgressHandler
	Monitor   *handler.MonitorHandler
	System    *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds background middleware state such as the rate limiter sweep.
func SetupRouter(
	ctx context.Context,
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	// Violation reports carry a camera still, so cap them per caller.
	reportLimiter := middleware.NewRateLimiter(ctx, 30, time.Minute)
	readLimiter := middleware.NewRateLimiter(ctx, 120, time.Minute)

	// ─── 1. Violation Group (Learner or Educator JWT) ──────────────────
	violation := router.Group("/violation")
	violation.Use(middleware.RequireAnyJWT(authService), middleware.NoStore())
	{
		violation.POST("/report", reportLimiter.Middleware(), handlers.Violation.Report)
		violation.GET("/count",
			readLimiter.Middleware(),
			middleware.RequireSelf("studentId"),
			handlers.Violation.Count,
		)
	}

	// ─── 2. Learner Progress Group (Learner JWT) ───────────────────────
	user := router.Group("/user")
	user.Use(middleware.RequireLearnerJWT(authService), middleware.NoStore(), readLimiter.Middleware())
	{
		user.POST("/update-course-progress", handlers.Progress.Update)
		user.GET("/course-progress", handlers.Progress.Get)
	}

	// ─── 3. WebSocket Group (Learner WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireLearnerWSAuth(authService))
	{
		ws.GET("/learner/courses/:course_id/tests/:test_id/proctor", handlers.Proctor.ProctorStream)
	}

	// ─── 4. Educator Group (JWT, token query allowed for SSE) ──────────
	educator := router.Group("/api/v1/educator")
	educator.Use(middleware.RequireEducatorJWT(authService))
	{
		educator.GET("/courses/:course_id/monitor", handlers.Monitor.MonitorCourseSSE)
		educator.GET("/courses/:course_id/violations", middleware.NoStore(), handlers.Violation.ListByCourse)
		educator.GET("/system/status", middleware.NoStore(), handlers.System.Status)
	}

	return router
}
