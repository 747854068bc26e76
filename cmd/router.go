package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tradegpt-backend/config"
	"tradegpt-backend/internal/handlers"
	"tradegpt-backend/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type routerDeps struct {
	hub      *services.WebSocketHub
	trades   *handlers.TradeHandler
	chat     *handlers.ChatHandler
	stopLoss *handlers.StopLossHandler
	market   *handlers.MarketHandler
	accounts *handlers.AccountHandler
}

func newRouter(cfg *config.Config, logger *zap.Logger, d routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(handlers.RequestLogger(logger), gin.Recovery(), handlers.CORS(cfg.CORSOrigins))

	// user-scoped routes require a token only when a secret is configured
	userScoped := []gin.HandlerFunc{}
	if cfg.JWTSecret != "" {
		userScoped = append(userScoped, handlers.NewAuthHandler(cfg.JWTSecret).AuthMiddleware())
	}
	scoped := func(h gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, userScoped...), h)
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "OK",
			"message": "TradeGPT API",
			"endpoints": []string{
				"GET /health",
				"GET /ws",
				"GET /api/stop-loss/status",
				"POST /api/stop-loss/check/:tradeId",
				"GET /api/trades?userId=",
				"PATCH /api/trades/:tradeId",
				"POST /api/chat",
				"POST /api/chat/stage",
				"GET /api/market/:symbol",
				"GET /api/accounts/smart-account/:ownerAddress",
				"GET /api/accounts/smart-account/:ownerAddress/balance",
			},
		})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := d.hub.RegisterClient(conn)
		go client.WritePump()
		go client.ReadPump()
	})

	api := router.Group("/api")

	api.GET("/stop-loss/status", d.stopLoss.GetStatus)
	api.POST("/stop-loss/check/:tradeId", d.stopLoss.CheckTrade)

	api.GET("/trades", scoped(d.trades.GetTrades)...)
	api.PATCH("/trades/:tradeId", scoped(d.trades.UpdateTrade)...)

	api.POST("/chat", scoped(d.chat.Chat)...)
	api.POST("/chat/stage", scoped(d.chat.Stage)...)

	api.GET("/market/:symbol", d.market.GetSnapshot)

	api.GET("/accounts/smart-account/:ownerAddress", d.accounts.GetSmartAccount)
	api.GET("/accounts/smart-account/:ownerAddress/balance", d.accounts.GetBalance)

	return router
}
