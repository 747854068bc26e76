package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tradegpt-backend/internal/models"
	"tradegpt-backend/internal/services"
)

type ChatSender interface {
	Send(ctx context.Context, userID, message string) (services.ChatResult, error)
}

type Stager interface {
	Stage(ctx context.Context, userID, tradeID, wallet string) (services.StageResult, error)
}

type ChatHandler struct {
	chat   ChatSender
	stager Stager
}

func NewChatHandler(chat ChatSender, stager Stager) *ChatHandler {
	return &ChatHandler{chat: chat, stager: stager}
}

type ChatRequest struct {
	UserID  string `json:"userId" binding:"required"`
	Message string `json:"message" binding:"required"`
}

type StageRequest struct {
	UserID  string `json:"userId" binding:"required"`
	Account string `json:"account" binding:"required,eth_addr"`
	TradeID string `json:"tradeId" binding:"required,uuid"`
}

func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if !authorizeUser(c, req.UserID) {
		return
	}

	result, err := h.chat.Send(c.Request.Context(), req.UserID, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ChatHandler) Stage(c *gin.Context) {
	var req StageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if !authorizeUser(c, req.UserID) {
		return
	}

	result, err := h.stager.Stage(c.Request.Context(), req.UserID, req.TradeID, req.Account)
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
