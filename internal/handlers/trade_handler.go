package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tradegpt-backend/internal/models"
	"tradegpt-backend/internal/services"
	"tradegpt-backend/internal/store"
)

type TradeHandler struct {
	trades   *store.TradeStore
	notifier services.Notifier
}

func NewTradeHandler(trades *store.TradeStore, notifier services.Notifier) *TradeHandler {
	return &TradeHandler{trades: trades, notifier: notifier}
}

type PreparedTxRequest struct {
	To      string `json:"to" binding:"required,eth_addr"`
	Data    string `json:"data" binding:"required,startswith=0x"`
	Value   string `json:"value" binding:"required,numeric"`
	ChainID int64  `json:"chainId"`
}

// UpdateTradeRequest - every field except userId is optional
type UpdateTradeRequest struct {
	UserID          string              `json:"userId" binding:"required"`
	Status          *models.TradeStatus `json:"status" binding:"omitempty,tradestatus"`
	StopLoss        *float64            `json:"stopLoss"`
	TakeProfit      *float64            `json:"takeProfit"`
	Leverage        *float64            `json:"leverage"`
	Collateral      *float64            `json:"collateral"`
	TransactionHash *string             `json:"transactionHash"`
	PreparedTx      *PreparedTxRequest  `json:"preparedTx"`
}

func (r UpdateTradeRequest) patch() models.TradePatch {
	p := models.TradePatch{
		Status:          r.Status,
		StopLoss:        r.StopLoss,
		TakeProfit:      r.TakeProfit,
		Leverage:        r.Leverage,
		Collateral:      r.Collateral,
		TransactionHash: r.TransactionHash,
	}
	if r.PreparedTx != nil {
		p.PreparedTx = &models.PreparedTx{
			To:      r.PreparedTx.To,
			Data:    r.PreparedTx.Data,
			Value:   r.PreparedTx.Value,
			ChainID: r.PreparedTx.ChainID,
		}
	}
	return p
}

func (h *TradeHandler) GetTrades(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId query parameter is required"})
		return
	}
	if !authorizeUser(c, userID) {
		return
	}

	c.JSON(http.StatusOK, gin.H{"trades": h.trades.List(userID)})
}

func (h *TradeHandler) UpdateTrade(c *gin.Context) {
	var req UpdateTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if !authorizeUser(c, req.UserID) {
		return
	}

	updated, ok := h.trades.Update(req.UserID, c.Param("tradeId"), req.patch())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trade not found"})
		return
	}

	h.notifier.Notify(models.Event{Type: models.EventTradeUpdated, Payload: updated})
	c.JSON(http.StatusOK, gin.H{"trade": updated})
}
