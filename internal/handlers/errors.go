package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tradegpt-backend/internal/models"
)

// statusFor maps the application error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrProviderDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrExternalFetch):
		return http.StatusBadGateway
	default:
		// configuration and transaction build failures included
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
