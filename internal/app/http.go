package app

import (
	"github.com/blinkboard/blink-backend/internal/http"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

func wireServer(log *logger.Logger, cfg Config, clients Clients, handlers Handlers, middleware Middleware) *http.Server {
	log.Info("Wiring router...")
	return http.NewServer(http.RouterConfig{
		Log:             log,
		Metrics:         clients.Metrics,
		ServiceName:     serviceName,
		AllowedOrigins:  cfg.AllowedOrigins,
		AuthMiddleware:  middleware.Auth,
		HealthHandler:   handlers.Health,
		AuthHandler:     handlers.Auth,
		IdentityHandler: handlers.Identity,
		AssetHandler:    handlers.Asset,
		MediaHandler:    handlers.Media,
	})
}
