package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sensai-labs/proctor-client/internal/config"
	"github.com/sensai-labs/proctor-client/internal/handler"
	"github.com/sensai-labs/proctor-client/internal/middleware"
	"github.com/sensai-labs/proctor-client/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session  *handler.SessionHandler
	Viva     *handler.VivaHandler
	Exam     *handler.ExamHandler
	Evidence *handler.EvidenceHandler
	Monitor  *handler.MonitorWSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, cfg *config.Config) *gin.Engine {
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-User-ID", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. REST API (Identity Required) ───────────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.RequireIdentity())
	{
		// Exam passthrough
		api.POST("/exams", handlers.Exam.CreateExam)
		api.GET("/exams/:exam_id", handlers.Exam.GetExam)

		// Session lifecycle
		api.POST("/exams/:exam_id/sessions", handlers.Session.StartSession)
		api.GET("/exams/:exam_id/sessions", handlers.Exam.ListSessions)
		api.GET("/sessions/:session_id", handlers.Session.GetSession)
		api.PUT("/sessions/:session_id/answers/:question_id", handlers.Session.SaveAnswer)
		api.POST("/sessions/:session_id/events", handlers.Session.PushEvent)
		api.POST("/sessions/:session_id/end", handlers.Session.EndSession)
		api.POST("/sessions/:session_id/retry", handlers.Session.RetrySubmit)

		// Surprise viva
		api.POST("/sessions/:session_id/viva", handlers.Viva.TriggerViva)
		api.PUT("/sessions/:session_id/viva/answers/:question_key", handlers.Viva.AnswerQuestion)
		api.POST("/sessions/:session_id/viva/advance", handlers.Viva.Advance)
		api.POST("/sessions/:session_id/viva/retreat", handlers.Viva.Retreat)
		api.POST("/sessions/:session_id/viva/complete", handlers.Viva.Complete)

		// Post-exam data
		api.GET("/exams/:exam_id/sessions/:session_id/results", handlers.Exam.GetResults)
		api.GET("/exams/:exam_id/sessions/:session_id/evaluation", handlers.Exam.GetEvaluation)
		api.POST("/exams/:exam_id/sessions/:session_id/evaluation", handlers.Exam.CreateEvaluation)
		api.GET("/exams/:exam_id/sessions/:session_id/video", handlers.Evidence.GetVideo)
	}

	// ─── 2. WebSocket (Identity via Header or Query) ───────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireIdentityWS())
	{
		ws.GET("/sessions/:session_id/monitor", handlers.Monitor.MonitorStream)
	}

	return router
}
