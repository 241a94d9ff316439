package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Ankitmohanty2/Kagaz/internal/handlers"
	"github.com/Ankitmohanty2/Kagaz/internal/logger"
)

type RouterConfig struct {
	ServiceName    string
	AllowedOrigins []string
	Auth           TokenChecker

	DocumentHandler *handlers.DocumentHandler
	UploadHandler   *handlers.UploadHandler
	QueryHandler    *handlers.QueryHandler
	ChatHandler     *handlers.ChatHandler
	NoteHandler     *handlers.NoteHandler
	StreamHandler   *handlers.StreamHandler
}

func NewRouter(log *logger.Logger, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(RequestID())
	router.Use(RequestLogger(log.With("component", "http")))
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(CORS(cfg.AllowedOrigins))
	}

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	api.Use(RequireAuth(log, cfg.Auth))
	{
		api.POST("/ai-stream", cfg.StreamHandler.AIStream)

		api.POST("/documents", cfg.DocumentHandler.AddDocument)
		api.POST("/documents/preview", cfg.UploadHandler.Preview)
		api.GET("/documents/:id", cfg.DocumentHandler.GetDocument)
		api.POST("/documents/:id/index", cfg.DocumentHandler.IndexDocument)

		api.GET("/documents/:id/search", cfg.QueryHandler.SimpleQuery)
		api.POST("/documents/:id/ask", cfg.QueryHandler.QueryWithLLM)

		api.POST("/documents/:id/chat", cfg.ChatHandler.Chat)
		api.GET("/documents/:id/sessions/:sid", cfg.ChatHandler.GetSession)

		api.GET("/documents/:id/notes", cfg.NoteHandler.GetNote)
		api.PUT("/documents/:id/notes", cfg.NoteHandler.PutNote)
		api.POST("/documents/:id/notes/ai", cfg.NoteHandler.AskIntoNote)
	}

	return router
}
