package services

import (
	"context"
	"errors"

	"github.com/blinkboard/blink-backend/internal/auth/challenge"
	"github.com/blinkboard/blink-backend/internal/auth/signature"
	domainagg "github.com/blinkboard/blink-backend/internal/domain/aggregates"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
	"github.com/blinkboard/blink-backend/internal/ratelimit"
)

// Admitter is satisfied by *ratelimit.Limiter.
type Admitter interface {
	Admit(ctx context.Context, p ratelimit.Policy, identity string) ratelimit.Decision
}

// ChallengeConsumer is satisfied by *challenge.Store.
type ChallengeConsumer interface {
	Consume(ctx context.Context, publicKey, message string) error
}

// Guard runs the checks every signed mutating request passes before it may
// touch storage or the ledger: rate limit, signature, then (optionally) a
// single-use challenge.
type Guard struct {
	log              *logger.Logger
	limiter          Admitter
	verifier         signature.Verifier
	challenges       ChallengeConsumer
	requireChallenge bool
}

func NewGuard(log *logger.Logger, limiter Admitter, verifier signature.Verifier, challenges ChallengeConsumer, requireChallenge bool) *Guard {
	if verifier == nil {
		verifier = signature.NewVerifier()
	}
	return &Guard{
		log:              log.With("component", "RequestGuard"),
		limiter:          limiter,
		verifier:         verifier,
		challenges:       challenges,
		requireChallenge: requireChallenge && challenges != nil,
	}
}

// Admit returns a CodeRateLimited error when identity is over p.
func (g *Guard) Admit(ctx context.Context, op string, p ratelimit.Policy, identity string) error {
	if g.limiter == nil {
		return nil
	}
	d := g.limiter.Admit(ctx, p, identity)
	if d.Allowed {
		return nil
	}
	detail := &domainagg.RateLimitDetail{
		Limit:        d.Limit,
		Remaining:    d.Remaining,
		ResetSeconds: d.ResetSeconds,
		Degraded:     d.Degraded,
	}
	return domainagg.NewError(domainagg.CodeRateLimited, op, detail.Error(), detail)
}

// Authenticate verifies creds and returns the caller's public key in
// canonical form.
func (g *Guard) Authenticate(op string, creds signature.Credentials) (string, error) {
	if creds.Empty() {
		return "", domainagg.NewError(domainagg.CodeUnauthenticated, op, "signed credentials required", signature.ErrMissingCredentials)
	}
	if !signature.VerifyCredentials(g.verifier, creds) {
		return "", domainagg.NewError(domainagg.CodeUnauthenticated, op, "signature does not verify", nil)
	}
	pk, err := signature.CanonicalPublicKey(creds.PublicKey)
	if err != nil {
		return "", domainagg.NewError(domainagg.CodeUnauthenticated, op, "signature does not verify", err)
	}
	return pk, nil
}

// Consume spends the challenge the caller signed. It runs after validation
// so a malformed request does not burn the nonce.
func (g *Guard) Consume(ctx context.Context, op string, creds signature.Credentials) error {
	if !g.requireChallenge {
		return nil
	}
	err := g.challenges.Consume(ctx, signature.NormalizePublicKey(creds.PublicKey), creds.Message)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, challenge.ErrUnknownChallenge):
		return domainagg.NewError(domainagg.CodeUnauthenticated, op, "challenge unknown, expired, or already used", err)
	default:
		g.log.Warn("challenge store unavailable", "op", op, "error", err)
		return domainagg.NewError(domainagg.CodeRepositoryUnavailable, op, "challenge store unavailable", err)
	}
}
