package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	portssvc "github.com/duitscan/scan_ledger_app/internal/core/ports/services"
	"github.com/duitscan/scan_ledger_app/internal/middleware"
)

// imageHandler serves stored page images through signed URLs. The signature
// replaces auth here: the URL itself is the credential.
type imageHandler struct {
	storage portssvc.StorageSvc
}

// registerImageRoutes registers the public signed-image route.
func registerImageRoutes(r *gin.Engine, storage portssvc.StorageSvc) {
	h := &imageHandler{storage: storage}
	r.GET("/v1/images/:key", h.serveImage)
}

// serveImage godoc
// @Summary Serve a stored page image
// @Description Validates the signed URL and streams the image
// @Tags images
// @Produce image/jpeg
// @Param key path string true "Image key"
// @Param expires query int true "Unix expiry timestamp"
// @Param sig query string true "URL signature"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]string "Expired or tampered URL"
// @Failure 404 {object} map[string]string "Image not found"
// @Router /v1/images/{key} [get]
func (h *imageHandler) serveImage(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())

	key := c.Param("key")
	expires, err := strconv.ParseInt(c.Query("expires"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid expires parameter"})
		return
	}

	if err := h.storage.VerifyURL(key, expires, c.Query("sig")); err != nil {
		respondWithError(c, logger, err, "Failed to verify image URL")
		return
	}

	data, mimeType, err := h.storage.Fetch(c.Request.Context(), key)
	if err != nil {
		respondWithError(c, logger, err, "Failed to read image")
		return
	}

	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, mimeType, data)
}
