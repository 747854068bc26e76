package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tradegpt-backend/internal/models"
	"tradegpt-backend/internal/store"
)

const defaultAgentTimeout = 90 * time.Second

// TransactionBuilder encodes the contract calls for a trade.
type TransactionBuilder interface {
	BuildDirect(account string, trade models.Trade) (models.PreparedTx, error)
	BuildPrepare(account string, trade models.Trade) (models.PreparedTx, error)
	BuildConfirm(account string) (models.PreparedTx, error)
	BuildCancel(account string) (models.PreparedTx, error)
}

// AccountRegistry resolves a wallet to its smart account. An empty address
// means the wallet has none.
type AccountRegistry interface {
	SmartAccountOf(ctx context.Context, owner string) (string, error)
}

// ChainSubmitter sends transactions signed by the backend agent.
type ChainSubmitter interface {
	HasPendingTrade(ctx context.Context, account string) (bool, error)
	SendTransaction(ctx context.Context, tx models.PreparedTx) (string, error)
	WaitForReceipt(ctx context.Context, hash string) error
}

type StageResult struct {
	StagedOnChain    bool               `json:"stagedOnChain"`
	Transaction      *models.PreparedTx `json:"transaction,omitempty"`
	SmartAccountUsed bool               `json:"smartAccountUsed"`
}

// TradeStager turns a draft into a signable transaction and marks it staged.
type TradeStager struct {
	trades       *store.TradeStore
	builder      TransactionBuilder
	registry     AccountRegistry
	submitter    ChainSubmitter
	notifier     Notifier
	logger       *zap.Logger
	agentTimeout time.Duration
}

// NewTradeStager wires the orchestrator. registry and submitter may be nil:
// without a registry every wallet is treated as a plain account, without a
// submitter the user signs the prepare step.
func NewTradeStager(trades *store.TradeStore, builder TransactionBuilder, registry AccountRegistry, submitter ChainSubmitter, notifier Notifier, logger *zap.Logger) *TradeStager {
	return &TradeStager{
		trades:       trades,
		builder:      builder,
		registry:     registry,
		submitter:    submitter,
		notifier:     notifier,
		logger:       logger,
		agentTimeout: defaultAgentTimeout,
	}
}

func (s *TradeStager) Stage(ctx context.Context, userID, tradeID, wallet string) (StageResult, error) {
	trade, ok := s.trades.Get(userID, tradeID)
	if !ok {
		return StageResult{}, fmt.Errorf("trade %s: %w", tradeID, models.ErrNotFound)
	}

	smartAccount := s.lookupSmartAccount(ctx, wallet)

	var (
		tx       models.PreparedTx
		onChain  bool
		buildErr error
	)
	switch {
	case smartAccount == "":
		s.logger.Info("staging for wallet", zap.String("wallet", wallet), zap.String("trade_id", tradeID))
		tx, buildErr = s.builder.BuildDirect(wallet, trade)

	case s.submitter != nil:
		s.logger.Info("staging through smart account with agent",
			zap.String("smart_account", smartAccount),
			zap.String("trade_id", tradeID))
		tx, buildErr = s.prepareWithAgent(ctx, smartAccount, trade)
		switch {
		case buildErr == nil:
			onChain = true
		case errors.Is(buildErr, models.ErrConfiguration):
			// the user-signed prepare needs the same configuration
		default:
			s.logger.Warn("agent failed to prepare trade on-chain, user will prepare",
				zap.String("smart_account", smartAccount),
				zap.String("trade_id", tradeID),
				zap.Error(buildErr))
			tx, buildErr = s.builder.BuildPrepare(smartAccount, trade)
		}

	default:
		s.logger.Info("no agent configured, user will prepare", zap.String("smart_account", smartAccount))
		tx, buildErr = s.builder.BuildPrepare(smartAccount, trade)
	}
	if buildErr != nil {
		if !errors.Is(buildErr, models.ErrConfiguration) && !errors.Is(buildErr, models.ErrTransactionBuild) {
			buildErr = fmt.Errorf("%w: %w", models.ErrTransactionBuild, buildErr)
		}
		return StageResult{}, buildErr
	}

	staged := models.StatusStaged
	if updated, ok := s.trades.Update(userID, tradeID, models.TradePatch{Status: &staged, PreparedTx: &tx}); ok {
		s.notifier.Notify(models.Event{Type: models.EventTradeStaged, Payload: updated})
	} else {
		s.logger.Info("trade disappeared before staging update", zap.String("trade_id", tradeID))
	}

	return StageResult{
		StagedOnChain:    onChain,
		Transaction:      &tx,
		SmartAccountUsed: smartAccount != "",
	}, nil
}

// lookupSmartAccount treats registry failures as "no smart account".
func (s *TradeStager) lookupSmartAccount(ctx context.Context, wallet string) string {
	if s.registry == nil {
		return ""
	}
	account, err := s.registry.SmartAccountOf(ctx, wallet)
	if err != nil {
		s.logger.Warn("smart account lookup failed", zap.String("wallet", wallet), zap.Error(err))
		return ""
	}
	return account
}

// prepareWithAgent clears any pending trade, submits prepareTrade signed by
// the agent and returns the confirm call the owner still has to sign.
func (s *TradeStager) prepareWithAgent(ctx context.Context, account string, trade models.Trade) (models.PreparedTx, error) {
	ctx, cancel := context.WithTimeout(ctx, s.agentTimeout)
	defer cancel()

	// build first so a missing router fails before anything is sent on-chain
	prepareTx, err := s.builder.BuildPrepare(account, trade)
	if err != nil {
		return models.PreparedTx{}, err
	}

	pending, err := s.submitter.HasPendingTrade(ctx, account)
	if err != nil {
		return models.PreparedTx{}, err
	}
	if pending {
		s.logger.Info("smart account has a pending trade, cancelling it", zap.String("smart_account", account))
		cancelTx, err := s.builder.BuildCancel(account)
		if err != nil {
			return models.PreparedTx{}, err
		}
		if err := s.submitAndWait(ctx, cancelTx); err != nil {
			return models.PreparedTx{}, fmt.Errorf("cancel pending trade: %w", err)
		}
	}

	if err := s.submitAndWait(ctx, prepareTx); err != nil {
		return models.PreparedTx{}, fmt.Errorf("prepare trade: %w", err)
	}
	return s.builder.BuildConfirm(account)
}

func (s *TradeStager) submitAndWait(ctx context.Context, tx models.PreparedTx) error {
	hash, err := s.submitter.SendTransaction(ctx, tx)
	if err != nil {
		return err
	}
	return s.submitter.WaitForReceipt(ctx, hash)
}
