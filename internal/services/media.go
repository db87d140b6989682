package services

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	domainagg "github.com/blinkboard/blink-backend/internal/domain/aggregates"
	"github.com/blinkboard/blink-backend/internal/platform/gcp"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
	"github.com/blinkboard/blink-backend/internal/ratelimit"
)

const defaultMaxMediaBytes = 5 << 20

var allowedMediaTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

type MediaObject struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	// Created is false when identical bytes were uploaded before.
	Created bool `json:"created"`
}

type MediaService interface {
	// Upload stores an image under a key derived from its content and returns
	// the URL to use as attributes.image.
	Upload(ctx context.Context, uploaderID uuid.UUID, r io.Reader) (*MediaObject, error)
}

type mediaService struct {
	log      *logger.Logger
	bucket   gcp.MediaBucket
	guard    *Guard
	policy   ratelimit.Policy
	maxBytes int
}

func NewMediaService(log *logger.Logger, bucket gcp.MediaBucket, guard *Guard, policy ratelimit.Policy, maxBytes int) MediaService {
	if maxBytes <= 0 {
		maxBytes = defaultMaxMediaBytes
	}
	return &mediaService{
		log:      log.With("service", "MediaService"),
		bucket:   bucket,
		guard:    guard,
		policy:   policy,
		maxBytes: maxBytes,
	}
}

func (s *mediaService) Upload(ctx context.Context, uploaderID uuid.UUID, r io.Reader) (*MediaObject, error) {
	const op = "media.upload"
	if s.bucket == nil {
		return nil, domainagg.NewError(domainagg.CodePreconditionFailed, op, "media storage is not configured", nil)
	}
	if err := s.guard.Admit(ctx, op, s.policy, uploaderID.String()); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, int64(s.maxBytes)+1))
	if err != nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "could not read upload", err)
	}
	if len(data) == 0 {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "file is empty", nil)
	}
	if len(data) > s.maxBytes {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "file is too large", nil)
	}
	mt := mimetype.Detect(data)
	if !allowedMediaTypes[mt.String()] {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "unsupported media type "+mt.String(), nil)
	}

	key := MediaKey(data, mt.Extension())
	created, err := s.bucket.Upload(ctx, key, mt.String(), bytes.NewReader(data))
	if err != nil {
		s.log.Warn("media upload failed", "key", key, "error", err)
		return nil, domainagg.NewError(domainagg.CodeRepositoryUnavailable, op, "media storage unavailable", err)
	}
	s.log.Info("media stored", "key", key, "uploader_id", uploaderID, "bytes", len(data), "created", created)
	return &MediaObject{
		Key:         key,
		URL:         s.bucket.PublicURL(key),
		ContentType: mt.String(),
		Size:        len(data),
		Created:     created,
	}, nil
}

// MediaKey is media/<sha3-256 of data><ext>.
func MediaKey(data []byte, ext string) string {
	sum := sha3.Sum256(data)
	return "media/" + hex.EncodeToString(sum[:]) + ext
}
