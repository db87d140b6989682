package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blinkboard/blink-backend/internal/http/response"
	"github.com/blinkboard/blink-backend/internal/platform/ctxutil"
	"github.com/blinkboard/blink-backend/internal/services"
)

type MediaHandler struct {
	media services.MediaService
}

func NewMediaHandler(media services.MediaService) *MediaHandler {
	return &MediaHandler{media: media}
}

// POST /api/media (multipart form, field "file")
func (h *MediaHandler) Upload(c *gin.Context) {
	sd := ctxutil.GetSessionData(c.Request.Context())
	if sd == nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthenticated", errNoSession)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		respondBindError(c, errors.New("multipart field \"file\" is required"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondBindError(c, err)
		return
	}
	defer f.Close()

	obj, err := h.media.Upload(c.Request.Context(), sd.IdentityID, f)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	status := http.StatusCreated
	if !obj.Created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"media": obj})
}
