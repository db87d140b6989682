package services

import (
	"context"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/blinkboard/blink-backend/internal/auth/challenge"
	"github.com/blinkboard/blink-backend/internal/auth/session"
	"github.com/blinkboard/blink-backend/internal/auth/signature"
	repoidentity "github.com/blinkboard/blink-backend/internal/data/repos/identity"
	domainagg "github.com/blinkboard/blink-backend/internal/domain/aggregates"
	"github.com/blinkboard/blink-backend/internal/domain/identity"
	"github.com/blinkboard/blink-backend/internal/platform/dbctx"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
	"github.com/blinkboard/blink-backend/internal/ratelimit"
)

const maxDisplayNameLen = 64

// ChallengeIssuer is satisfied by *challenge.Store.
type ChallengeIssuer interface {
	Issue(ctx context.Context, publicKey string) (*challenge.Challenge, error)
}

type SignInResult struct {
	Identity  *identity.Identity `json:"identity"`
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
}

type RegisterIdentityRequest struct {
	Credentials signature.Credentials
	DisplayName string
	Email       string
}

// UpdateProfileRequest leaves nil fields unchanged. An empty email clears it.
type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name"`
	Email       *string `json:"email"`
}

type IdentityService interface {
	IssueChallenge(ctx context.Context, publicKey string) (*challenge.Challenge, error)
	// SignIn verifies a signed challenge, registers the key on first use, and
	// returns a session token for read endpoints.
	SignIn(ctx context.Context, creds signature.Credentials) (*SignInResult, error)
	Register(ctx context.Context, req RegisterIdentityRequest) (*identity.Identity, error)
	GetByID(ctx context.Context, id uuid.UUID) (*identity.Identity, error)
	GetByPublicKey(ctx context.Context, publicKey string) (*identity.Identity, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, req UpdateProfileRequest) (*identity.Identity, error)
}

type identityService struct {
	log        *logger.Logger
	repo       repoidentity.IdentityRepo
	guard      *Guard
	challenges ChallengeIssuer
	sessions   *session.Manager
	policy     ratelimit.Policy
}

func NewIdentityService(
	log *logger.Logger,
	repo repoidentity.IdentityRepo,
	guard *Guard,
	challenges ChallengeIssuer,
	sessions *session.Manager,
	authPolicy ratelimit.Policy,
) IdentityService {
	return &identityService{
		log:        log.With("service", "IdentityService"),
		repo:       repo,
		guard:      guard,
		challenges: challenges,
		sessions:   sessions,
		policy:     authPolicy,
	}
}

func (s *identityService) IssueChallenge(ctx context.Context, publicKey string) (*challenge.Challenge, error) {
	const op = "identity.challenge"
	if err := s.guard.Admit(ctx, op, s.policy, signature.NormalizePublicKey(publicKey)); err != nil {
		return nil, err
	}
	publicKey, err := signature.CanonicalPublicKey(publicKey)
	if err != nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "public_key is not a valid key", err)
	}
	if s.challenges == nil {
		return nil, domainagg.NewError(domainagg.CodeInternal, op, "challenges are not configured", nil)
	}
	c, err := s.challenges.Issue(ctx, publicKey)
	if err != nil {
		s.log.Warn("issue challenge failed", "public_key", publicKey, "error", err)
		return nil, domainagg.NewError(domainagg.CodeRepositoryUnavailable, op, "challenge store unavailable", err)
	}
	return c, nil
}

func (s *identityService) SignIn(ctx context.Context, creds signature.Credentials) (*SignInResult, error) {
	const op = "identity.sign_in"
	pk, err := s.authenticate(ctx, op, creds)
	if err != nil {
		return nil, err
	}
	if s.sessions == nil {
		return nil, domainagg.NewError(domainagg.CodeInternal, op, "sessions are not configured", nil)
	}
	if err := s.guard.Consume(ctx, op, creds); err != nil {
		return nil, err
	}
	ident, err := s.ensure(ctx, op, pk, "", "")
	if err != nil {
		return nil, err
	}
	token, exp, err := s.sessions.Issue(ident.ID, ident.PublicKey)
	if err != nil {
		return nil, domainagg.NewError(domainagg.CodeInternal, op, "issue session", err)
	}
	return &SignInResult{Identity: ident, Token: token, ExpiresAt: exp}, nil
}

func (s *identityService) Register(ctx context.Context, req RegisterIdentityRequest) (*identity.Identity, error) {
	const op = "identity.register"
	pk, err := s.authenticate(ctx, op, req.Credentials)
	if err != nil {
		return nil, err
	}
	name, email, err := normalizeProfile(op, req.DisplayName, req.Email)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.GetByPublicKey(dbctx.Context{Ctx: ctx}, pk)
	if err != nil {
		return nil, domainagg.Wrap(domainagg.CodeRepositoryUnavailable, op, err)
	}
	if existing != nil {
		return nil, domainagg.NewError(domainagg.CodeConflict, op, "identity already registered", nil)
	}
	if err := s.guard.Consume(ctx, op, req.Credentials); err != nil {
		return nil, err
	}
	return s.ensure(ctx, op, pk, name, email)
}

func (s *identityService) GetByID(ctx context.Context, id uuid.UUID) (*identity.Identity, error) {
	const op = "identity.get"
	row, err := s.repo.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, domainagg.Wrap(domainagg.CodeRepositoryUnavailable, op, err)
	}
	if row == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "identity not found", nil)
	}
	return row, nil
}

func (s *identityService) GetByPublicKey(ctx context.Context, publicKey string) (*identity.Identity, error) {
	const op = "identity.get"
	row, err := s.repo.GetByPublicKey(dbctx.Context{Ctx: ctx}, publicKey)
	if err != nil {
		return nil, domainagg.Wrap(domainagg.CodeRepositoryUnavailable, op, err)
	}
	if row == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "identity not found", nil)
	}
	return row, nil
}

func (s *identityService) UpdateProfile(ctx context.Context, id uuid.UUID, req UpdateProfileRequest) (*identity.Identity, error) {
	const op = "identity.update_profile"
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	name, email := current.DisplayName, current.Email
	if req.DisplayName != nil {
		name = *req.DisplayName
	}
	if req.Email != nil {
		email = *req.Email
	}
	name, email, err = normalizeProfile(op, name, email)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = defaultDisplayName(current.PublicKey)
	}
	updates := map[string]interface{}{"display_name": name, "email": email}
	if err := s.repo.UpdateFields(dbctx.Context{Ctx: ctx}, id, updates); err != nil {
		return nil, domainagg.Wrap(domainagg.CodeRepositoryUnavailable, op, err)
	}
	return s.GetByID(ctx, id)
}

func (s *identityService) authenticate(ctx context.Context, op string, creds signature.Credentials) (string, error) {
	if err := s.guard.Admit(ctx, op, s.policy, signature.NormalizePublicKey(creds.PublicKey)); err != nil {
		return "", err
	}
	return s.guard.Authenticate(op, creds)
}

// ensure returns the identity for pk, creating it when missing. A concurrent
// insert of the same key loses on the unique index and re-reads.
func (s *identityService) ensure(ctx context.Context, op, pk, name, email string) (*identity.Identity, error) {
	dbc := dbctx.Context{Ctx: ctx}
	existing, err := s.repo.GetByPublicKey(dbc, pk)
	if err != nil {
		return nil, domainagg.Wrap(domainagg.CodeRepositoryUnavailable, op, err)
	}
	if existing != nil {
		return existing, nil
	}
	if name == "" {
		name = defaultDisplayName(pk)
	}
	row := &identity.Identity{ID: uuid.New(), PublicKey: pk, DisplayName: name, Email: email}
	if err := s.repo.Create(dbc, row); err != nil {
		again, gerr := s.repo.GetByPublicKey(dbc, pk)
		if gerr == nil && again != nil {
			return again, nil
		}
		return nil, domainagg.Wrap(domainagg.CodeRepositoryUnavailable, op, err)
	}
	s.log.Info("identity registered", "identity_id", row.ID, "public_key", pk)
	return row, nil
}

func normalizeProfile(op, name, email string) (string, string, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if utf8.RuneCountInString(name) > maxDisplayNameLen {
		return "", "", domainagg.NewError(domainagg.CodeValidation, op, "display_name is too long", nil)
	}
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return "", "", domainagg.NewError(domainagg.CodeValidation, op, "email is not a valid address", err)
		}
	}
	return name, email, nil
}

func defaultDisplayName(pk string) string {
	if len(pk) > 4 {
		pk = pk[:4]
	}
	return "Blink User " + pk
}
