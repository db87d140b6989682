package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blinkboard/blink-backend/internal/auth/signature"
	"github.com/blinkboard/blink-backend/internal/services"
)

type AuthHandler struct {
	identities services.IdentityService
}

func NewAuthHandler(identities services.IdentityService) *AuthHandler {
	return &AuthHandler{identities: identities}
}

// POST /api/auth/challenge
// body: { public_key }
func (ah *AuthHandler) Challenge(c *gin.Context) {
	var req struct {
		PublicKey string `json:"public_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	ch, err := ah.identities.IssueChallenge(c.Request.Context(), req.PublicKey)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": ch.Message, "expires_at": ch.ExpiresAt})
}

// POST /api/auth/session
// body: { public_key, message, signature }
func (ah *AuthHandler) Session(c *gin.Context) {
	var creds signature.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		respondBindError(c, err)
		return
	}
	res, err := ah.identities.SignIn(c.Request.Context(), creds)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      res.Token,
		"expires_at": res.ExpiresAt,
		"identity":   res.Identity,
	})
}
