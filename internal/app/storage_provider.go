package app

import (
	"errors"
	"fmt"

	"github.com/blinkboard/blink-backend/internal/platform/gcp"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

var newMediaBucket = gcp.NewMediaBucket

type MediaBootstrapErrorCode string

const (
	MediaBootstrapErrorInvalidConfig MediaBootstrapErrorCode = "invalid_config"
	MediaBootstrapErrorConnectFailed MediaBootstrapErrorCode = "connect_failed"
)

type MediaBootstrapError struct {
	Code  MediaBootstrapErrorCode
	Mode  string
	Cause error
}

func (e *MediaBootstrapError) Error() string {
	if e == nil {
		return "media storage bootstrap failed"
	}
	return fmt.Sprintf("media storage bootstrap failed (code=%s mode=%q): %v", e.Code, e.Mode, e.Cause)
}

func (e *MediaBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveMediaBucket returns nil when media upload is not configured.
func resolveMediaBucket(log *logger.Logger, cfg Config) (gcp.MediaBucket, error) {
	if !cfg.MediaEnabled {
		log.Info("Media upload disabled; MEDIA_GCS_BUCKET_NAME not set")
		return nil, nil
	}
	storageCfg, err := gcp.StorageConfigFromEnv()
	if err != nil {
		return nil, classifyMediaBootstrapError(storageCfg, err)
	}
	bucket, err := newMediaBucket(log, storageCfg)
	if err != nil {
		classified := classifyMediaBootstrapError(storageCfg, err)
		log.Error("Media storage bootstrap failed",
			"mode", storageCfg.Mode,
			"bucket", storageCfg.BucketName,
			"error", classified,
		)
		return nil, classified
	}
	return bucket, nil
}

func classifyMediaBootstrapError(storageCfg gcp.StorageConfig, err error) error {
	code := MediaBootstrapErrorConnectFailed
	var cfgErr *gcp.StorageConfigError
	if errors.As(err, &cfgErr) {
		code = MediaBootstrapErrorInvalidConfig
	}
	return &MediaBootstrapError{Code: code, Mode: string(storageCfg.Mode), Cause: err}
}
