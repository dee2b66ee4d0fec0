package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/duitscan/scan_ledger_app/internal/apperrors"
)

// respondWithError maps application errors onto HTTP responses. Internal
// error details never leak to the client.
func respondWithError(c *gin.Context, logger *slog.Logger, err error, internalMsg string) {
	var throttled *apperrors.RetryThrottledError
	switch {
	case errors.As(err, &throttled):
		c.Header("Retry-After", strconv.Itoa(throttled.WaitSeconds))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "Retry requested too soon",
			"waitSeconds": throttled.WaitSeconds,
		})
	case errors.Is(err, apperrors.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Resource not found"})
	case errors.Is(err, apperrors.ErrConflict), errors.Is(err, apperrors.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrSessionExpired):
		c.JSON(http.StatusGone, gin.H{"error": "Scan session has expired"})
	default:
		logger.Error(internalMsg, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": internalMsg})
	}
}
