package app

import (
	"context"

	httpH "github.com/blinkboard/blink-backend/internal/http/handlers"
	httpMW "github.com/blinkboard/blink-backend/internal/http/middleware"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Auth     *httpH.AuthHandler
	Identity *httpH.IdentityHandler
	Asset    *httpH.AssetHandler
	Media    *httpH.MediaHandler
}

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func wireHandlers(log *logger.Logger, clients Clients, services Services) Handlers {
	log.Info("Wiring handlers...")
	checks := map[string]httpH.Pinger{
		"database": pingFunc(func(ctx context.Context) error {
			sqlDB, err := clients.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
		"redis": pingFunc(func(ctx context.Context) error { return clients.Redis.Ping(ctx).Err() }),
	}
	h := Handlers{
		Health:   httpH.NewHealthHandler(checks),
		Auth:     httpH.NewAuthHandler(services.Identity),
		Identity: httpH.NewIdentityHandler(services.Identity),
		Asset:    httpH.NewAssetHandler(services.Coordinator),
	}
	if clients.Media != nil {
		h.Media = httpH.NewMediaHandler(services.Media)
	}
	return h
}

func wireMiddleware(log *logger.Logger, services Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, services.Sessions),
	}
}
