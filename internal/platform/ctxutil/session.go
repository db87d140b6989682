package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type sessionDataKey struct{}

// SessionData is attached by the session middleware for read endpoints.
type SessionData struct {
	IdentityID uuid.UUID
	PublicKey  string
	Token      string
}

func WithSessionData(ctx context.Context, sd *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, sd)
}

func GetSessionData(ctx context.Context) *SessionData {
	val := ctx.Value(sessionDataKey{})
	if sd, ok := val.(*SessionData); ok {
		return sd
	}
	return nil
}
