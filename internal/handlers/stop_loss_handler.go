package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tradegpt-backend/internal/models"
	"tradegpt-backend/internal/services"
)

type StopLossMonitor interface {
	Status() services.MonitorStatus
	CheckTrade(ctx context.Context, tradeID string) (services.CheckResult, error)
}

type StopLossHandler struct {
	monitor StopLossMonitor
}

func NewStopLossHandler(monitor StopLossMonitor) *StopLossHandler {
	return &StopLossHandler{monitor: monitor}
}

func (h *StopLossHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Status())
}

// CheckTrade runs the stop-loss evaluation for one trade immediately.
func (h *StopLossHandler) CheckTrade(c *gin.Context) {
	result, err := h.monitor.CheckTrade(c.Request.Context(), c.Param("tradeId"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Trade not found"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
