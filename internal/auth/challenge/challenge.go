// Package challenge issues single-use sign-in messages for wallet keys.
package challenge

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/sha3"

	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

var ErrUnknownChallenge = errors.New("challenge unknown, expired, or already used")

// Backend is the subset of the redis client the store needs.
type Backend interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	GetDel(ctx context.Context, key string) *goredis.StringCmd
}

type Challenge struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Store struct {
	rdb    Backend
	log    *logger.Logger
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

func NewStore(rdb Backend, log *logger.Logger, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{
		rdb:    rdb,
		log:    log.With("component", "ChallengeStore"),
		ttl:    ttl,
		prefix: "challenge:",
		now:    time.Now,
	}
}

// Issue creates a message for publicKey to sign. It can be consumed once.
func (s *Store) Issue(ctx context.Context, publicKey string) (*Challenge, error) {
	publicKey = strings.TrimSpace(publicKey)
	if publicKey == "" {
		return nil, fmt.Errorf("public key required")
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	now := s.now().UTC()
	msg := fmt.Sprintf("Sign in to Blink\n\nWallet: %s\nNonce: %s\nIssued At: %s",
		publicKey, base58.Encode(nonce), now.Format(time.RFC3339))
	if err := s.rdb.Set(ctx, s.key(msg), publicKey, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	return &Challenge{Message: msg, ExpiresAt: now.Add(s.ttl)}, nil
}

// Consume atomically removes the challenge for message and checks it was
// issued to publicKey. A consumed challenge is gone even when the key does
// not match.
func (s *Store) Consume(ctx context.Context, publicKey, message string) error {
	if message == "" {
		return ErrUnknownChallenge
	}
	issuedTo, err := s.rdb.GetDel(ctx, s.key(message)).Result()
	if errors.Is(err, goredis.Nil) {
		return ErrUnknownChallenge
	}
	if err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(issuedTo), []byte(strings.TrimSpace(publicKey))) != 1 {
		s.log.Warn("challenge presented by a different key", "public_key", publicKey)
		return ErrUnknownChallenge
	}
	return nil
}

func (s *Store) key(message string) string {
	sum := sha3.Sum256([]byte(message))
	return s.prefix + hex.EncodeToString(sum[:])
}
