package gcp

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

type StorageMode string

const (
	StorageModeGCS         StorageMode = "gcs"
	StorageModeGCSEmulator StorageMode = "gcs_emulator"
)

type StorageConfig struct {
	Mode         StorageMode
	EmulatorHost string
	BucketName   string
	CDNDomain    string
	// PublicBaseURL overrides how object URLs are rendered (local emulators).
	PublicBaseURL string
	// Credentials is inline service-account JSON or a path to one. Empty
	// means application default credentials.
	Credentials string
}

func (cfg StorageConfig) IsEmulator() bool { return cfg.Mode == StorageModeGCSEmulator }

type StorageConfigError struct {
	Field string
	Value string
}

func (e *StorageConfigError) Error() string {
	if e == nil {
		return "invalid media storage config"
	}
	if e.Value == "" {
		return fmt.Sprintf("invalid media storage config: %s is required", e.Field)
	}
	return fmt.Sprintf("invalid media storage config: %s=%q", e.Field, e.Value)
}

// StorageConfigFromEnv reads MEDIA_* variables. An unset MEDIA_STORAGE_MODE
// falls back to the emulator when STORAGE_EMULATOR_HOST is present.
func StorageConfigFromEnv() (StorageConfig, error) {
	cfg := StorageConfig{
		EmulatorHost:  strings.TrimRight(strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")), "/"),
		BucketName:    strings.TrimSpace(os.Getenv("MEDIA_GCS_BUCKET_NAME")),
		CDNDomain:     strings.TrimSpace(os.Getenv("MEDIA_CDN_DOMAIN")),
		PublicBaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("MEDIA_PUBLIC_BASE_URL")), "/"),
		Credentials:   firstEnv("MEDIA_GCS_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS_JSON", "GOOGLE_APPLICATION_CREDENTIALS"),
	}
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("MEDIA_STORAGE_MODE")))
	switch StorageMode(raw) {
	case "":
		if cfg.EmulatorHost != "" {
			cfg.Mode = StorageModeGCSEmulator
		} else {
			cfg.Mode = StorageModeGCS
		}
	case StorageModeGCS, StorageModeGCSEmulator:
		cfg.Mode = StorageMode(raw)
	default:
		return cfg, &StorageConfigError{Field: "MEDIA_STORAGE_MODE", Value: raw}
	}
	return cfg, ValidateStorageConfig(cfg)
}

func ValidateStorageConfig(cfg StorageConfig) error {
	if cfg.Mode != StorageModeGCS && cfg.Mode != StorageModeGCSEmulator {
		return &StorageConfigError{Field: "MEDIA_STORAGE_MODE", Value: string(cfg.Mode)}
	}
	if cfg.BucketName == "" {
		return &StorageConfigError{Field: "MEDIA_GCS_BUCKET_NAME"}
	}
	if cfg.PublicBaseURL != "" && !isAbsoluteURL(cfg.PublicBaseURL) {
		return &StorageConfigError{Field: "MEDIA_PUBLIC_BASE_URL", Value: cfg.PublicBaseURL}
	}
	if !cfg.IsEmulator() {
		return nil
	}
	if cfg.EmulatorHost == "" {
		return &StorageConfigError{Field: "STORAGE_EMULATOR_HOST"}
	}
	if !isAbsoluteURL(cfg.EmulatorHost) {
		return &StorageConfigError{Field: "STORAGE_EMULATOR_HOST", Value: cfg.EmulatorHost}
	}
	return nil
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && strings.TrimSpace(u.Scheme) != "" && strings.TrimSpace(u.Host) != ""
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
