package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/blinkboard/blink-backend/internal/http/response"
	"github.com/blinkboard/blink-backend/internal/platform/ctxutil"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

// SessionParser is satisfied by *session.Manager.
type SessionParser interface {
	Parse(token string) (*ctxutil.SessionData, error)
}

type AuthMiddleware struct {
	log      *logger.Logger
	sessions SessionParser
}

func NewAuthMiddleware(log *logger.Logger, sessions SessionParser) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "AuthMiddleware"), sessions: sessions}
}

// RequireSession admits requests carrying a valid bearer session token.
func (am *AuthMiddleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			response.RespondError(c, http.StatusUnauthorized, "unauthenticated", errMissingToken)
			c.Abort()
			return
		}
		sd, err := am.sessions.Parse(token)
		if err != nil {
			am.log.Debug("session rejected", "error", err)
			response.RespondError(c, http.StatusUnauthorized, "unauthenticated", errInvalidToken)
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithSessionData(c.Request.Context(), sd))
		c.Next()
	}
}

type authError string

func (e authError) Error() string { return string(e) }

const (
	errMissingToken = authError("missing bearer token")
	errInvalidToken = authError("invalid or expired session")
)

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
