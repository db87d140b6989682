package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

// MediaBucket stores content-addressed blink images.
type MediaBucket interface {
	// Upload writes the object unless it already exists. It reports whether
	// a new object was created.
	Upload(ctx context.Context, key, contentType string, r io.Reader) (bool, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

type mediaBucket struct {
	log    *logger.Logger
	client *storage.Client
	cfg    StorageConfig
}

func NewMediaBucketFromEnv(log *logger.Logger) (MediaBucket, error) {
	cfg, err := StorageConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewMediaBucket(log, cfg)
}

func NewMediaBucket(log *logger.Logger, cfg StorageConfig) (MediaBucket, error) {
	if err := ValidateStorageConfig(cfg); err != nil {
		return nil, err
	}
	client, err := newStorageClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	serviceLog := log.With("service", "MediaBucket")
	serviceLog.Info("Media storage initialized",
		"mode", cfg.Mode,
		"bucket", cfg.BucketName,
		"emulator_host", cfg.EmulatorHost,
		"cdn_domain", cfg.CDNDomain,
	)
	return &mediaBucket{log: serviceLog, client: client, cfg: cfg}, nil
}

func newStorageClient(ctx context.Context, cfg StorageConfig) (*storage.Client, error) {
	if cfg.IsEmulator() {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	switch creds := cfg.Credentials; {
	case strings.HasPrefix(creds, "{"):
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	case creds != "":
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return storage.NewClient(ctx, opts...)
}

func (b *mediaBucket) Upload(ctx context.Context, key, contentType string, r io.Reader) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	obj := b.client.Bucket(b.cfg.BucketName).Object(key).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	w.CacheControl = "public, max-age=31536000, immutable"
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return false, fmt.Errorf("write media object: %w", err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("close media writer: %w", err)
	}
	return true, nil
}

func (b *mediaBucket) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := b.client.Bucket(b.cfg.BucketName).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete media object: %w", err)
	}
	return nil
}

func (b *mediaBucket) PublicURL(key string) string {
	return publicURL(b.cfg, key)
}

func publicURL(cfg StorageConfig, key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if cfg.CDNDomain != "" {
		return fmt.Sprintf("https://%s/%s", cfg.CDNDomain, key)
	}
	if cfg.IsEmulator() {
		base := cfg.PublicBaseURL
		if base == "" {
			base = cfg.EmulatorHost
		}
		return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", base, url.PathEscape(cfg.BucketName), url.PathEscape(key))
	}
	if cfg.PublicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", cfg.PublicBaseURL, cfg.BucketName, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", cfg.BucketName, key)
}

func isPreconditionFailed(err error) bool {
	var coded interface{ HTTPStatusCode() int }
	if errors.As(err, &coded) && coded.HTTPStatusCode() == 412 {
		return true
	}
	return strings.Contains(err.Error(), "conditionNotMet") || strings.Contains(err.Error(), "412")
}
