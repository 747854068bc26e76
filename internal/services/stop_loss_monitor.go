package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tradegpt-backend/internal/models"
	"tradegpt-backend/internal/store"
)

const DefaultStopLossInterval = 15 * time.Second

// PriceSource is the monitor's view of the price cache.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	Samples() []models.PriceSample
}

type MonitorStatus struct {
	IsRunning       bool                 `json:"isRunning"`
	CachedPrices    []models.PriceSample `json:"cachedPrices"`
	MonitoredTrades int                  `json:"monitoredTrades"`
}

// CycleReport summarises one pass over the ledger.
type CycleReport struct {
	Skipped    bool // another cycle was still running
	Watched    int
	Checked    int
	Suppressed int // already notified at the current stop level
	Triggered  int
	Failed     int
}

// CheckResult is the outcome of a manual single-trade check.
type CheckResult struct {
	TradeID         string  `json:"tradeId"`
	Monitored       bool    `json:"monitored"`
	AlreadyNotified bool    `json:"alreadyNotified"`
	Price           float64 `json:"price,omitempty"`
	Triggered       bool    `json:"triggered"`
}

type tradeKey struct {
	userID  string
	tradeID string
}

// StopLossMonitor polls prices for open positions and emits trade.stopLoss
// when a stop level is crossed.
type StopLossMonitor struct {
	trades   *store.TradeStore
	prices   PriceSource
	notifier Notifier
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	cycling atomic.Bool

	// notified records the stop level each trade already fired at. The public
	// status stays "executed" through a trigger, so this is the only guard
	// against re-emitting on every cycle while price stays past the level.
	notifiedMu sync.Mutex
	notified   map[tradeKey]float64
}

func NewStopLossMonitor(trades *store.TradeStore, prices PriceSource, notifier Notifier, logger *zap.Logger, interval time.Duration) *StopLossMonitor {
	if interval <= 0 {
		interval = DefaultStopLossInterval
	}
	return &StopLossMonitor{
		trades:   trades,
		prices:   prices,
		notifier: notifier,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		notified: make(map[tradeKey]float64),
	}
}

// Start runs a cycle immediately and then every interval until Stop.
func (m *StopLossMonitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Warn("stop-loss monitor is already running")
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	m.logger.Info("starting stop-loss monitor", zap.Duration("interval", m.interval))
	go m.loop(stop, done)
}

func (m *StopLossMonitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	// cycles are not tied to stop: in-flight work finishes, it is just not rescheduled
	ctx := context.Background()
	m.RunCycle(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// Stop cancels future cycles and waits for an in-flight one to finish.
func (m *StopLossMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	<-done
	m.logger.Info("stop-loss monitor stopped")
}

func (m *StopLossMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RunCycle evaluates every watched trade once. Trades are processed one after
// another and each failure is contained to its trade.
func (m *StopLossMonitor) RunCycle(ctx context.Context) CycleReport {
	if !m.cycling.CompareAndSwap(false, true) {
		m.logger.Warn("previous stop-loss cycle still running, skipping")
		return CycleReport{Skipped: true}
	}
	defer m.cycling.Store(false)

	watched := m.watchedTrades()
	m.pruneNotified(watched)

	report := CycleReport{Watched: len(watched)}
	if len(watched) == 0 {
		return report
	}
	m.logger.Debug("checking positions for stop-loss triggers", zap.Int("trades", len(watched)))

	for _, trade := range watched {
		if m.alreadyNotified(trade) {
			report.Suppressed++
			continue
		}
		report.Checked++

		triggered, _, err := m.checkTrade(ctx, trade)
		if err != nil {
			report.Failed++
			m.logger.Warn("stop-loss check failed",
				zap.String("trade_id", trade.ID),
				zap.String("symbol", trade.Symbol),
				zap.Error(err))
			continue
		}
		if triggered {
			report.Triggered++
		}
	}
	return report
}

// CheckTrade runs the trigger evaluation for one trade on demand.
func (m *StopLossMonitor) CheckTrade(ctx context.Context, tradeID string) (CheckResult, error) {
	trade, ok := m.trades.FindByID(tradeID)
	if !ok {
		return CheckResult{}, fmt.Errorf("trade %s: %w", tradeID, models.ErrNotFound)
	}

	result := CheckResult{TradeID: trade.ID, Monitored: isWatched(trade)}
	if !result.Monitored {
		return result, nil
	}
	if m.alreadyNotified(trade) {
		result.AlreadyNotified = true
		return result, nil
	}

	triggered, price, err := m.checkTrade(ctx, trade)
	if err != nil {
		return result, err
	}
	result.Price = price
	result.Triggered = triggered
	if !triggered && ShouldTriggerStopLoss(trade, price) {
		// lost the claim to a concurrent cycle
		result.AlreadyNotified = m.alreadyNotified(trade)
	}
	return result, nil
}

func (m *StopLossMonitor) checkTrade(ctx context.Context, trade models.Trade) (triggered bool, price float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while checking trade: %v", r)
		}
	}()

	price, err = m.prices.GetPrice(ctx, trade.Symbol)
	if err != nil {
		return false, 0, err
	}
	if !ShouldTriggerStopLoss(trade, price) {
		return false, price, nil
	}

	m.logger.Warn("stop-loss triggered",
		zap.String("trade_id", trade.ID),
		zap.String("user_id", trade.UserID),
		zap.String("symbol", trade.Symbol),
		zap.String("side", string(trade.Side)),
		zap.Float64("price", price),
		zap.Float64("stop_loss", *trade.StopLoss))

	return m.executeStopLoss(trade, price), price, nil
}

// executeStopLoss performs the close transition. The record must still be an
// executed position at the stop level that was evaluated.
func (m *StopLossMonitor) executeStopLoss(trade models.Trade, triggeredAt float64) bool {
	level := *trade.StopLoss
	executed := models.StatusExecuted

	// a manual check and a cycle can race on the same trade; one claim per level
	if !m.claimNotified(trade, level) {
		m.logger.Debug("stop-loss already claimed for this level, skipping",
			zap.String("trade_id", trade.ID))
		return false
	}

	updated, ok := m.trades.UpdateIf(trade.UserID, trade.ID, func(current models.Trade) bool {
		return isWatched(current) && *current.StopLoss == level
	}, models.TradePatch{Status: &executed})
	if !ok {
		m.releaseNotified(trade, level)
		m.logger.Info("trade changed or disappeared before stop-loss update, skipping",
			zap.String("trade_id", trade.ID),
			zap.String("user_id", trade.UserID))
		return false
	}

	m.notifier.Notify(models.Event{
		Type: models.EventStopLoss,
		Payload: models.StopLossTrigger{
			Trade:            updated,
			TriggeredAtPrice: triggeredAt,
			ExecutedAt:       m.now(),
		},
	})

	m.logger.Info("stop-loss executed", zap.String("trade_id", trade.ID))
	return true
}

// ShouldTriggerStopLoss reports whether price has reached the trade's stop
// level. Equality triggers.
func ShouldTriggerStopLoss(trade models.Trade, price float64) bool {
	if trade.StopLoss == nil {
		return false
	}
	switch trade.Side {
	case models.SideLong:
		return price <= *trade.StopLoss
	case models.SideShort:
		return price >= *trade.StopLoss
	}
	return false
}

func isWatched(t models.Trade) bool {
	return t.Status == models.StatusExecuted && t.StopLoss != nil
}

func (m *StopLossMonitor) watchedTrades() []models.Trade {
	all := m.trades.ListAll()
	watched := all[:0]
	for _, t := range all {
		if isWatched(t) {
			watched = append(watched, t)
		}
	}
	return watched
}

func (m *StopLossMonitor) alreadyNotified(t models.Trade) bool {
	m.notifiedMu.Lock()
	defer m.notifiedMu.Unlock()

	level, ok := m.notified[tradeKey{t.UserID, t.ID}]
	return ok && t.StopLoss != nil && level == *t.StopLoss
}

// claimNotified sets the marker for level unless it is already set. Only the
// caller that wins the claim may emit.
func (m *StopLossMonitor) claimNotified(t models.Trade, level float64) bool {
	m.notifiedMu.Lock()
	defer m.notifiedMu.Unlock()

	key := tradeKey{t.UserID, t.ID}
	if fired, ok := m.notified[key]; ok && fired == level {
		return false
	}
	m.notified[key] = level
	return true
}

func (m *StopLossMonitor) releaseNotified(t models.Trade, level float64) {
	m.notifiedMu.Lock()
	defer m.notifiedMu.Unlock()

	key := tradeKey{t.UserID, t.ID}
	if fired, ok := m.notified[key]; ok && fired == level {
		delete(m.notified, key)
	}
}

// pruneNotified drops markers for trades that left the watch list or whose
// stop level moved, re-arming them.
func (m *StopLossMonitor) pruneNotified(watched []models.Trade) {
	levels := make(map[tradeKey]float64, len(watched))
	for _, t := range watched {
		levels[tradeKey{t.UserID, t.ID}] = *t.StopLoss
	}

	m.notifiedMu.Lock()
	defer m.notifiedMu.Unlock()
	for key, fired := range m.notified {
		if current, ok := levels[key]; !ok || current != fired {
			delete(m.notified, key)
		}
	}
}

func (m *StopLossMonitor) Status() MonitorStatus {
	return MonitorStatus{
		IsRunning:       m.IsRunning(),
		CachedPrices:    m.prices.Samples(),
		MonitoredTrades: len(m.watchedTrades()),
	}
}
