package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/blinkboard/blink-backend/internal/http/handlers"
	httpMW "github.com/blinkboard/blink-backend/internal/http/middleware"
	"github.com/blinkboard/blink-backend/internal/observability"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	AllowedOrigins []string

	AuthMiddleware *httpMW.AuthMiddleware

	AuthHandler     *httpH.AuthHandler
	IdentityHandler *httpH.IdentityHandler
	AssetHandler    *httpH.AssetHandler
	MediaHandler    *httpH.MediaHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "blink-backend"
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}

	api := r.Group("/api")
	{
		// Auth (public)
		if cfg.AuthHandler != nil {
			api.POST("/auth/challenge", cfg.AuthHandler.Challenge)
			api.POST("/auth/session", cfg.AuthHandler.Session)
		}

		// Signed writes and public reads
		if cfg.IdentityHandler != nil {
			api.POST("/identities", cfg.IdentityHandler.Register)
		}
		if cfg.AssetHandler != nil {
			api.POST("/assets", cfg.AssetHandler.Create)
			api.GET("/assets/:id", cfg.AssetHandler.Get)
			api.PATCH("/assets/:id", cfg.AssetHandler.Update)
			api.DELETE("/assets/:id", cfg.AssetHandler.Purge)
			api.POST("/assets/:id/transfer", cfg.AssetHandler.Transfer)
			api.GET("/assets/:id/transactions", cfg.AssetHandler.ListTransactions)
		}
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireSession())
		}

		if cfg.IdentityHandler != nil {
			protected.GET("/me", cfg.IdentityHandler.GetMe)
			protected.PATCH("/me", cfg.IdentityHandler.UpdateMe)
		}
		if cfg.AssetHandler != nil {
			protected.GET("/me/assets", cfg.AssetHandler.ListMine)
		}
		if cfg.MediaHandler != nil {
			protected.POST("/media", cfg.MediaHandler.Upload)
		}
	}

	return r
}
