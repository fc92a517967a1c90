package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/handler"
	"github.com/stemsi/exstem-assessment/internal/logger"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt      *handler.AttemptHandler
	StaffAttempt *handler.StaffAttemptHandler
	Monitor      *handler.MonitorHandler
	WS           *handler.WSHandler
	Health       *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// warningLimiter throttles integrity reports per student.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	warningLimiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(logger.RequestLogger(log))
	router.Use(middleware.Compress(middleware.CompressionConfig{
		Level:     middleware.DefaultCompressionConfig.Level,
		MinBytes:  middleware.DefaultCompressionConfig.MinBytes,
		SkipPaths: []string{"/health"},
	}))

	router.GET("/health", handlers.Health.Health)

	// ─── 1. Student Group ──────────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService), middleware.NoStore())
	{
		studentAPI.POST("/tests/:test_id/attempt", handlers.Attempt.StartAttempt)

		attempts := studentAPI.Group("/attempts/:attempt_id")
		{
			attempts.GET("", handlers.Attempt.GetAttempt)
			attempts.POST("/answers", handlers.Attempt.SubmitAnswer)
			attempts.POST("/heartbeat", handlers.Attempt.Heartbeat)
			attempts.POST("/warnings", warningLimiter.Middleware(), handlers.Attempt.RecordWarning)
			attempts.POST("/finalize", handlers.Attempt.Finalize)
		}
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 3. Staff Group (JWT + RBAC) ───────────────────────────────────
	staffAPI := router.Group("/api/v1/staff")
	staffAPI.Use(middleware.RequireStaffJWT(authService), middleware.NoStore())
	{
		staffAPI.GET("/attempts/:attempt_id",
			middleware.RequirePermission(string(model.PermissionAttemptsRead)),
			handlers.StaffAttempt.GetAttempt)
		staffAPI.GET("/tests/:test_id/attempts",
			middleware.RequireAnyPermission(string(model.PermissionAttemptsRead), string(model.PermissionAttemptsGrade)),
			handlers.StaffAttempt.ListAttempts)

		grading := staffAPI.Group("/attempts/:attempt_id")
		grading.Use(middleware.RequirePermission(string(model.PermissionAttemptsGrade)))
		{
			grading.PUT("/answers/:question_id/grade", handlers.StaffAttempt.GradeAnswer)
			grading.PUT("/answers/:question_id/adjustment", handlers.StaffAttempt.AdjustAnswer)
			grading.PUT("/grace", handlers.StaffAttempt.SetGraceMarks)
		}

		staffAPI.GET("/tests/:test_id/monitor",
			middleware.RequirePermission(string(model.PermissionTestsMonitor)),
			handlers.Monitor.MonitorTestSSE)
		staffAPI.POST("/tests/:test_id/refresh-cache",
			middleware.RequirePermission(string(model.PermissionTestsPublish)),
			handlers.StaffAttempt.RefreshTestCache)
	}

	return router
}
