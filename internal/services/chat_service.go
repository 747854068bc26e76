package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradegpt-backend/internal/models"
	"tradegpt-backend/internal/store"
)

const (
	defaultSymbol     = "ETH"
	defaultLeverage   = 5
	defaultCollateral = 100
)

var (
	tickerPattern     = regexp.MustCompile(`[A-Z]{2,6}`)
	leveragePattern   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*x`)
	collateralPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(usdc|usd|eth)?`)
)

type ChatResult struct {
	Reply         models.ChatMessage `json:"reply"`
	Trade         *models.Trade      `json:"trade,omitempty"`
	StagedOnChain bool               `json:"stagedOnChain"`
}

// ChatService runs one conversation turn and records the resulting draft.
type ChatService struct {
	conversations *store.ConversationStore
	trades        *store.TradeStore
	market        SnapshotProvider
	provider      CompletionProvider
	notifier      Notifier
	logger        *zap.Logger
}

func NewChatService(conversations *store.ConversationStore, trades *store.TradeStore, market SnapshotProvider, provider CompletionProvider, notifier Notifier, logger *zap.Logger) *ChatService {
	return &ChatService{
		conversations: conversations,
		trades:        trades,
		market:        market,
		provider:      provider,
		notifier:      notifier,
		logger:        logger,
	}
}

func (s *ChatService) Send(ctx context.Context, userID, message string) (ChatResult, error) {
	s.conversations.Append(userID, models.RoleUser, message)
	history := s.conversations.History(userID)

	symbol := detectSymbol(message)
	snapshot, err := s.market.Snapshot(ctx, symbol)
	if err != nil {
		return ChatResult{}, err
	}

	answer, err := s.provider.Complete(ctx, history, *snapshot)
	if err != nil {
		if !errors.Is(err, models.ErrProviderDisabled) {
			s.logger.Error("completion failed", zap.String("provider", s.provider.Name()), zap.Error(err))
		}
		return ChatResult{}, err
	}
	reply := s.conversations.Append(userID, models.RoleAssistant, answer)

	trade, err := s.trades.Insert(userID, deriveSuggestion(answer, message, *snapshot), models.StatusDraft)
	if err != nil {
		return ChatResult{}, fmt.Errorf("record draft: %w", err)
	}
	s.notifier.Notify(models.Event{Type: models.EventTradeDraft, Payload: trade})

	s.logger.Info("draft trade created",
		zap.String("user_id", userID),
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("side", string(trade.Side)))

	return ChatResult{Reply: reply, Trade: &trade}, nil
}

// detectSymbol checks the majors by keyword, then the first ticker-looking
// token.
func detectSymbol(content string) string {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "btc"):
		return "BTC"
	case strings.Contains(lower, "eth"):
		return "ETH"
	case strings.Contains(lower, "sol"):
		return "SOL"
	}
	if m := tickerPattern.FindString(content); m != "" {
		return m
	}
	return defaultSymbol
}

// deriveSuggestion reads side, leverage and size from the reply and the user's
// message, and sets risk levels off the current price.
func deriveSuggestion(answer, message string, snap models.MarketSnapshot) models.TradeSuggestion {
	combined := strings.ToLower(answer + "\n" + message)

	side := models.SideLong
	if strings.Contains(combined, "short") && !strings.Contains(combined, "long") {
		side = models.SideShort
	}

	leverage := firstNumber(leveragePattern, combined, defaultLeverage)
	collateral := firstNumber(collateralPattern, combined, defaultCollateral)

	risk, reward := 0.97, 1.06
	if side == models.SideShort {
		risk, reward = 1.03, 0.94
	}
	stopLoss := round2(snap.Price * risk)
	takeProfit := round2(snap.Price * reward)

	riskReward := math.Abs(takeProfit-snap.Price) / math.Abs(snap.Price-stopLoss)
	if math.IsNaN(riskReward) || math.IsInf(riskReward, 0) || riskReward == 0 {
		riskReward = 1
	}

	mood := "bullish"
	if snap.Change24h < 0 {
		mood = "bearish"
	}

	return models.TradeSuggestion{
		ID:         uuid.NewString(),
		Asset:      snap.Symbol,
		Symbol:     snap.Symbol,
		Side:       side,
		Leverage:   leverage,
		Collateral: collateral,
		EntryPrice: snap.Price,
		StopLoss:   models.Float(stopLoss),
		TakeProfit: models.Float(takeProfit),
		Rationale:  fmt.Sprintf("Momentum is %s with RSI %s. Risk defined at %s.", mood, formatNumber(snap.RSI), formatNumber(stopLoss)),
		Confidence: math.Min(95, math.Max(40, 60+snap.Change24h*5)),
		RiskReward: round2(riskReward),
		Metadata: map[string]interface{}{
			"price":     snap.Price,
			"change24h": snap.Change24h,
		},
	}
}

func firstNumber(re *regexp.Regexp, s string, fallback float64) float64 {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return fallback
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return fallback
	}
	return v
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
