package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tradegpt-backend/internal/services"
)

type MarketHandler struct {
	market services.SnapshotProvider
}

func NewMarketHandler(market services.SnapshotProvider) *MarketHandler {
	return &MarketHandler{market: market}
}

func (h *MarketHandler) GetSnapshot(c *gin.Context) {
	snap, err := h.market.Snapshot(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}
