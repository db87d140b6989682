package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/blinkboard/blink-backend/internal/data/db"
	"github.com/blinkboard/blink-backend/internal/ledger"
	"github.com/blinkboard/blink-backend/internal/ledger/ledgertest"
	"github.com/blinkboard/blink-backend/internal/observability"
	"github.com/blinkboard/blink-backend/internal/platform/gcp"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
	"github.com/blinkboard/blink-backend/internal/platform/redisx"
	"github.com/blinkboard/blink-backend/internal/platform/sendgrid"
)

type Clients struct {
	DBService *db.Service
	DB        *gorm.DB
	Redis     *goredis.Client
	Ledger    ledger.Client
	Media     gcp.MediaBucket
	Email     sendgrid.Client
	Metrics   *observability.Metrics
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	metrics := observability.Init()

	// Database
	dbs, err := db.NewService(log, db.ConfigFromEnv())
	if err != nil {
		return Clients{}, fmt.Errorf("init database: %w", err)
	}
	if err := db.AutoMigrateAll(dbs.DB()); err != nil {
		_ = dbs.Close()
		return Clients{}, fmt.Errorf("database automigrate: %w", err)
	}
	out := Clients{DBService: dbs, DB: dbs.DB(), Metrics: metrics}

	// Redis backs rate limits, challenges and the event bus.
	rdb, err := redisx.Connect(ctx, log, redisx.ConfigFromEnv())
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init redis: %w", err)
	}
	out.Redis = rdb

	// Ledger
	switch cfg.LedgerMode {
	case LedgerModeMemory:
		log.Warn("Using in-memory ledger; outcomes are lost on restart")
		out.Ledger = ledgertest.New()
	default:
		gw, err := ledger.NewGateway(log, ledger.GatewayConfigFromEnv(), metrics)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init ledger gateway: %w", err)
		}
		out.Ledger = gw
	}

	// Gcs
	out.Media, err = resolveMediaBucket(log, cfg)
	if err != nil {
		out.Close()
		return Clients{}, err
	}

	// SendGrid
	if cfg.EmailEnabled {
		out.Email, err = sendgrid.New(log, sendgrid.ConfigFromEnv())
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init sendgrid: %w", err)
		}
	}
	return out, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DBService != nil {
		_ = c.DBService.Close()
	}
}
