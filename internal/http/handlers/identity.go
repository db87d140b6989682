package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blinkboard/blink-backend/internal/auth/signature"
	"github.com/blinkboard/blink-backend/internal/http/response"
	"github.com/blinkboard/blink-backend/internal/platform/ctxutil"
	"github.com/blinkboard/blink-backend/internal/services"
)

type IdentityHandler struct {
	identities services.IdentityService
}

func NewIdentityHandler(identities services.IdentityService) *IdentityHandler {
	return &IdentityHandler{identities: identities}
}

// POST /api/identities
// body: { public_key, message, signature, display_name, email }
func (h *IdentityHandler) Register(c *gin.Context) {
	var req struct {
		signature.Credentials
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	ident, err := h.identities.Register(c.Request.Context(), services.RegisterIdentityRequest{
		Credentials: req.Credentials,
		DisplayName: req.DisplayName,
		Email:       req.Email,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"identity": ident})
}

// GET /api/me
func (h *IdentityHandler) GetMe(c *gin.Context) {
	sd := ctxutil.GetSessionData(c.Request.Context())
	if sd == nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthenticated", errNoSession)
		return
	}
	me, err := h.identities.GetByID(c.Request.Context(), sd.IdentityID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"me": me})
}

// PATCH /api/me
// body: { "display_name": "...", "email": "..." }, either optional
func (h *IdentityHandler) UpdateMe(c *gin.Context) {
	sd := ctxutil.GetSessionData(c.Request.Context())
	if sd == nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthenticated", errNoSession)
		return
	}
	var req services.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	me, err := h.identities.UpdateProfile(c.Request.Context(), sd.IdentityID, req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"me": me})
}

func respondServiceError(c *gin.Context, err error) {
	response.RespondServiceError(c, err, nil)
}
