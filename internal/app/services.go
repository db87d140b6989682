package app

import (
	"fmt"

	"github.com/blinkboard/blink-backend/internal/auth/challenge"
	"github.com/blinkboard/blink-backend/internal/auth/session"
	"github.com/blinkboard/blink-backend/internal/data/aggregates"
	"github.com/blinkboard/blink-backend/internal/data/repos"
	domainagg "github.com/blinkboard/blink-backend/internal/domain/aggregates"
	"github.com/blinkboard/blink-backend/internal/jobs/worker"
	"github.com/blinkboard/blink-backend/internal/notify"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
	"github.com/blinkboard/blink-backend/internal/ratelimit"
	"github.com/blinkboard/blink-backend/internal/services"
)

type Services struct {
	Sessions        *session.Manager
	Challenges      *challenge.Store
	Limiter         *ratelimit.Limiter
	Assets          domainagg.AssetAggregate
	Events          notify.Publisher
	Coordinator     services.AssetCoordinator
	Identity        services.IdentityService
	Media           services.MediaService
	Reconciler      services.Reconciler
	ReconcileWorker *worker.ReconcileWorker
}

func wireServices(log *logger.Logger, cfg Config, clients Clients, reposet repos.Repos) (Services, error) {
	log.Info("Wiring services...")

	sessions, err := session.NewManager(cfg.JWTSecretKey, cfg.SessionTTL)
	if err != nil {
		return Services{}, fmt.Errorf("init sessions: %w", err)
	}
	challenges := challenge.NewStore(clients.Redis, log, cfg.ChallengeTTL)
	limiter := ratelimit.New(ratelimit.NewRedisStore(clients.Redis), log, clients.Metrics)
	guard := services.NewGuard(log, limiter, nil, challenges, cfg.ChallengeRequired)

	assetAgg := aggregates.NewAssetAggregate(aggregates.AssetAggregateDeps{
		Base: aggregates.BaseDeps{
			DB:    clients.DB,
			Log:   log,
			Hooks: aggregates.NewMetricsHooks(clients.Metrics),
		},
		Assets:       reposet.Assets,
		Transactions: reposet.Transactions,
	})

	publishers := []notify.Publisher{notify.NewRedisBus(log, clients.Redis, cfg.RedisEventsChannel)}
	if clients.Email != nil {
		publishers = append(publishers, notify.NewEmailNotifier(log, clients.Email, reposet.Identities))
	}
	events := notify.NewFanout(log, publishers...)

	window := cfg.RateLimitWindow
	writePolicy := ratelimit.Policy{Scope: "asset_write", Max: cfg.RateLimitMax, Window: window}
	readPolicy := ratelimit.Policy{Scope: "asset_read", Max: cfg.RateLimitReadMax, Window: window, FailOpen: true}
	authPolicy := ratelimit.Policy{Scope: "auth", Max: cfg.AuthRateLimitMax, Window: window}
	mediaPolicy := ratelimit.Policy{Scope: "media", Max: cfg.RateLimitMax, Window: window}

	coordinator := services.NewAssetCoordinator(log, services.AssetCoordinatorConfig{
		WritePolicy:   writePolicy,
		ReadPolicy:    readPolicy,
		SubmitTimeout: cfg.LedgerSubmitTimeout,
		AdminKeys:     cfg.AdminPublicKeys,
	}, assetAgg, reposet.Identities, clients.Ledger, guard, events)

	reconciler := services.NewReconciler(log, services.ReconcilerConfig{
		ConfirmationTimeout: cfg.ReconcileConfirmationTimeout,
		BatchSize:           cfg.ReconcileBatchSize,
		Concurrency:         cfg.ReconcileConcurrency,
		QueryTimeout:        cfg.LedgerQueryTimeout,
	}, assetAgg, clients.Ledger, events, clients.Metrics)

	var reconcileWorker *worker.ReconcileWorker
	if cfg.ReconcileEnabled {
		reconcileWorker = worker.NewReconcileWorker(log, reconciler, cfg.ReconcileInterval)
	}

	return Services{
		Sessions:        sessions,
		Challenges:      challenges,
		Limiter:         limiter,
		Assets:          assetAgg,
		Events:          events,
		Coordinator:     coordinator,
		Identity:        services.NewIdentityService(log, reposet.Identities, guard, challenges, sessions, authPolicy),
		Media:           services.NewMediaService(log, clients.Media, guard, mediaPolicy, cfg.MediaMaxBytes),
		Reconciler:      reconciler,
		ReconcileWorker: reconcileWorker,
	}, nil
}
