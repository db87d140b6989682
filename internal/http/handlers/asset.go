package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/blinkboard/blink-backend/internal/auth/signature"
	"github.com/blinkboard/blink-backend/internal/http/response"
	"github.com/blinkboard/blink-backend/internal/platform/ctxutil"
	"github.com/blinkboard/blink-backend/internal/services"
)

type AssetHandler struct {
	coordinator services.AssetCoordinator
}

func NewAssetHandler(coordinator services.AssetCoordinator) *AssetHandler {
	return &AssetHandler{coordinator: coordinator}
}

// POST /api/assets
// body: { public_key, message, signature, attributes: {...} }
func (h *AssetHandler) Create(c *gin.Context) {
	var req struct {
		signature.Credentials
		Attributes json.RawMessage `json:"attributes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	view, err := h.coordinator.Create(c.Request.Context(), services.CreateAssetRequest{
		Credentials: req.Credentials,
		Attributes:  req.Attributes,
	})
	if err != nil {
		respondAssetError(c, err, view)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"asset": view})
}

// PATCH /api/assets/:id
// body: { public_key, message, signature, expected_version, attributes: {partial} }
func (h *AssetHandler) Update(c *gin.Context) {
	id, ok := assetIDParam(c)
	if !ok {
		return
	}
	var req struct {
		signature.Credentials
		ExpectedVersion *int            `json:"expected_version"`
		Attributes      json.RawMessage `json:"attributes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if req.ExpectedVersion == nil {
		respondBindError(c, errMissingVersion)
		return
	}
	view, err := h.coordinator.Update(c.Request.Context(), services.UpdateAssetRequest{
		Credentials:     req.Credentials,
		AssetID:         id,
		ExpectedVersion: *req.ExpectedVersion,
		Patch:           req.Attributes,
	})
	if err != nil {
		respondAssetError(c, err, view)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": view})
}

// POST /api/assets/:id/transfer
// body: { public_key, message, signature, expected_version, to_owner_id }
func (h *AssetHandler) Transfer(c *gin.Context) {
	id, ok := assetIDParam(c)
	if !ok {
		return
	}
	var req struct {
		signature.Credentials
		ExpectedVersion *int   `json:"expected_version"`
		ToOwnerID       string `json:"to_owner_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if req.ExpectedVersion == nil {
		respondBindError(c, errMissingVersion)
		return
	}
	view, err := h.coordinator.Transfer(c.Request.Context(), services.TransferAssetRequest{
		Credentials:     req.Credentials,
		AssetID:         id,
		ExpectedVersion: *req.ExpectedVersion,
		ToOwnerID:       req.ToOwnerID,
	})
	if err != nil {
		respondAssetError(c, err, view)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": view})
}

// GET /api/assets/:id
func (h *AssetHandler) Get(c *gin.Context) {
	id, ok := assetIDParam(c)
	if !ok {
		return
	}
	view, err := h.coordinator.GetStatus(c.Request.Context(), id, readCaller(c))
	if err != nil {
		response.RespondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": view})
}

// GET /api/assets/:id/transactions
func (h *AssetHandler) ListTransactions(c *gin.Context) {
	id, ok := assetIDParam(c)
	if !ok {
		return
	}
	txs, err := h.coordinator.ListTransactions(c.Request.Context(), id, readCaller(c))
	if err != nil {
		response.RespondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// GET /api/me/assets
func (h *AssetHandler) ListMine(c *gin.Context) {
	sd := ctxutil.GetSessionData(c.Request.Context())
	if sd == nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthenticated", errNoSession)
		return
	}
	views, err := h.coordinator.ListByOwner(c.Request.Context(), sd.PublicKey)
	if err != nil {
		response.RespondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assets": views})
}

// DELETE /api/assets/:id
// body: { public_key, message, signature, expected_version } signed by an admin key.
func (h *AssetHandler) Purge(c *gin.Context) {
	id, ok := assetIDParam(c)
	if !ok {
		return
	}
	var req struct {
		signature.Credentials
		ExpectedVersion *int `json:"expected_version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if req.ExpectedVersion == nil {
		respondBindError(c, errMissingVersion)
		return
	}
	err := h.coordinator.Purge(c.Request.Context(), services.PurgeAssetRequest{
		Credentials:     req.Credentials,
		AssetID:         id,
		ExpectedVersion: *req.ExpectedVersion,
	})
	if err != nil {
		response.RespondServiceError(c, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}

var (
	errMissingVersion = errors.New("expected_version is required")
	errNoSession      = errors.New("session required")
)

func assetIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", errors.New("invalid asset id"))
		return uuid.Nil, false
	}
	return id, true
}

// readCaller keys read limits by session identity when present, else by IP.
func readCaller(c *gin.Context) string {
	if sd := ctxutil.GetSessionData(c.Request.Context()); sd != nil {
		return sd.PublicKey
	}
	return "ip:" + c.ClientIP()
}

func respondBindError(c *gin.Context, err error) {
	response.RespondServiceError(c, response.BadRequest(err), nil)
}

// respondAssetError keeps a typed nil view out of the error body.
func respondAssetError(c *gin.Context, err error, view *services.AssetView) {
	if view == nil {
		response.RespondServiceError(c, err, nil)
		return
	}
	response.RespondServiceError(c, err, view)
}
