package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tradegpt-backend/config"
	"tradegpt-backend/internal/chain"
	"tradegpt-backend/internal/handlers"
	"tradegpt-backend/internal/services"
	"tradegpt-backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trades := store.NewTradeStore()
	conversations := store.NewConversationStore()

	wsHub := services.NewWebSocketHub(logger)
	go wsHub.Run()
	notifier := services.MultiNotifier{wsHub}

	// Optional event archive
	var (
		mongoClient *mongo.Client
		archive     *services.EventArchive
	)
	if cfg.MongoURI != "" {
		mongoClient, err = config.ConnectDB(ctx, cfg.MongoURI)
		if err != nil {
			logger.Warn("event archive disabled", zap.Error(err))
		} else {
			archive = services.NewEventArchive(config.GetCollection(mongoClient, cfg.DatabaseName, config.EventsCollection), logger)
			go archive.Run(ctx)
			notifier = append(notifier, archive)
			logger.Info("event archive enabled", zap.String("database", cfg.DatabaseName))
		}
	}

	prices := services.NewPriceCache(services.NewBinanceFeed(cfg.BinanceBaseURL), cfg.PriceCacheTTL, cfg.PriceFetchTimeout)
	monitor := services.NewStopLossMonitor(trades, prices, notifier, logger, cfg.StopLossInterval)
	market := services.NewCoinGeckoClient(cfg.MarketDataEndpoint, cfg.CoinGeckoAPIKey, logger)
	builder := chain.NewTxBuilder(cfg.RouterAddress, cfg.AssetAddresses(), cfg.ChainID)

	// Chain access is optional: without it every wallet stages directly.
	var (
		registry  services.AccountRegistry
		submitter services.ChainSubmitter
		accounts  handlers.AccountLookup
	)
	if cfg.RPCURL != "" {
		eth, err := chain.Dial(ctx, cfg.RPCURL)
		if err != nil {
			logger.Warn("chain RPC unavailable", zap.String("url", cfg.RPCURL), zap.Error(err))
		} else {
			defer eth.Close()
			client, err := chain.NewClient(eth, cfg.FactoryAddress, cfg.ChainID, cfg.AgentPrivateKey, logger)
			if err != nil {
				logger.Fatal("chain client", zap.Error(err))
			}
			if client.HasFactory() {
				registry = client
				accounts = client
			}
			if client.HasAgent() {
				submitter = client
			}
		}
	}

	stager := services.NewTradeStager(trades, builder, registry, submitter, notifier, logger)
	chat := services.NewChatService(conversations, trades, market, services.SelectProvider(cfg, logger), notifier, logger)

	handlers.RegisterValidators()
	router := newRouter(cfg, logger, routerDeps{
		hub:      wsHub,
		trades:   handlers.NewTradeHandler(trades, notifier),
		chat:     handlers.NewChatHandler(chat, stager),
		stopLoss: handlers.NewStopLossHandler(monitor),
		market:   handlers.NewMarketHandler(market),
		accounts: handlers.NewAccountHandler(accounts),
	})

	monitor.Start()

	server := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		logger.Info("http listening",
			zap.String("port", cfg.Port),
			zap.String("websocket", "ws://localhost:"+cfg.Port+"/ws"))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http", zap.Error(err))
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	monitor.Stop()

	ctxShut, cancelShut := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShut()
	_ = server.Shutdown(ctxShut)
	wsHub.Stop()

	cancel()
	if archive != nil {
		archive.Wait()
	}
	if mongoClient != nil {
		if err := config.DisconnectDB(mongoClient); err != nil {
			logger.Warn("mongo disconnect", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

func newLogger(level string) *zap.Logger {
	if strings.EqualFold(level, "debug") {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}

	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	return logger
}
