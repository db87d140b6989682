package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blinkboard/blink-backend/internal/platform/envutil"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

const (
	LedgerModeGateway = "gateway"
	LedgerModeMemory  = "memory"
)

type Config struct {
	Port            string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	RateLimitMax     int
	RateLimitWindow  time.Duration
	RateLimitReadMax int
	AuthRateLimitMax int

	LedgerMode          string
	LedgerSubmitTimeout time.Duration
	LedgerQueryTimeout  time.Duration

	ReconcileEnabled             bool
	ReconcileInterval            time.Duration
	ReconcileConfirmationTimeout time.Duration
	ReconcileBatchSize           int
	ReconcileConcurrency         int

	ChallengeTTL      time.Duration
	ChallengeRequired bool
	JWTSecretKey      string
	SessionTTL        time.Duration

	RedisEventsChannel string
	MediaEnabled       bool
	MediaMaxBytes      int
	EmailEnabled       bool

	AdminPublicKeys []string

	MetricsAddr string
}

// LoadConfig reads the environment, seeded from the YAML file named by
// BLINK_CONFIG_FILE when set. Variables already in the environment win.
func LoadConfig(log *logger.Logger) (Config, error) {
	if path := envutil.String("BLINK_CONFIG_FILE", ""); path != "" {
		n, err := applyConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		log.Info("Loaded config file", "path", path, "keys", n)
	}

	cfg := Config{
		Port:            envutil.String("PORT", "8080"),
		ShutdownTimeout: envutil.Duration("SHUTDOWN_TIMEOUT", 20*time.Second),
		AllowedOrigins:  envutil.List("CORS_ALLOWED_ORIGINS"),

		RateLimitMax:     envutil.Int("RATE_LIMIT_MAX", 100),
		RateLimitWindow:  time.Duration(envutil.Int("RATE_LIMIT_WINDOW_MS", 900000)) * time.Millisecond,
		RateLimitReadMax: envutil.Int("RATE_LIMIT_READ_MAX", 600),
		AuthRateLimitMax: envutil.Int("RATE_LIMIT_AUTH_MAX", 30),

		LedgerMode:          strings.ToLower(envutil.String("LEDGER_MODE", LedgerModeGateway)),
		LedgerSubmitTimeout: envutil.Duration("LEDGER_SUBMIT_TIMEOUT", 30*time.Second),
		LedgerQueryTimeout:  envutil.Duration("LEDGER_QUERY_TIMEOUT", 10*time.Second),

		ReconcileEnabled:             envutil.Bool("RECONCILE_ENABLED", true),
		ReconcileInterval:            envutil.Duration("RECONCILE_INTERVAL", 30*time.Second),
		ReconcileConfirmationTimeout: envutil.Duration("RECONCILE_CONFIRMATION_TIMEOUT", 2*time.Minute),
		ReconcileBatchSize:           envutil.Int("RECONCILE_BATCH_SIZE", 100),
		ReconcileConcurrency:         envutil.Int("RECONCILE_CONCURRENCY", 4),

		ChallengeTTL:      envutil.Duration("CHALLENGE_TTL", 5*time.Minute),
		ChallengeRequired: envutil.Bool("CHALLENGE_REQUIRED", true),
		JWTSecretKey:      envutil.String("JWT_SECRET_KEY", ""),
		SessionTTL:        envutil.Duration("SESSION_TTL", time.Hour),

		RedisEventsChannel: envutil.String("REDIS_EVENTS_CHANNEL", "blink:asset-events"),
		MediaEnabled:       envutil.String("MEDIA_GCS_BUCKET_NAME", "") != "",
		MediaMaxBytes:      envutil.Int("MEDIA_MAX_BYTES", 5<<20),
		EmailEnabled:       envutil.String("SENDGRID_API_KEY", "") != "",

		AdminPublicKeys: envutil.List("ADMIN_PUBLIC_KEYS"),

		MetricsAddr: envutil.String("METRICS_ADDR", ":9090"),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.LedgerMode {
	case LedgerModeGateway, LedgerModeMemory:
	default:
		return fmt.Errorf("unsupported LEDGER_MODE %q", c.LedgerMode)
	}
	if c.RateLimitMax <= 0 || c.RateLimitReadMax <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}

// applyConfigFile exports flat YAML keys (PORT: "8080") into the
// environment without overriding variables that are already set.
func applyConfigFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read config file: %w", err)
	}
	var values map[string]interface{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return 0, fmt.Errorf("parse config file %s: %w", path, err)
	}
	n := 0
	for k, v := range values {
		key := strings.ToUpper(strings.TrimSpace(k))
		if key == "" || v == nil {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		var s string
		switch tv := v.(type) {
		case []interface{}:
			parts := make([]string, 0, len(tv))
			for _, p := range tv {
				parts = append(parts, fmt.Sprint(p))
			}
			s = strings.Join(parts, ",")
		default:
			s = fmt.Sprint(tv)
		}
		if err := os.Setenv(key, s); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
