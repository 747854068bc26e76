package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradegpt-backend/internal/models"
	"tradegpt-backend/internal/store"
)

// Mock implementations

type mockPrices struct {
	mu     sync.Mutex
	prices map[string]float64
	errs   map[string]error
	calls  map[string]int
	hook   func(symbol string)
}

func newMockPrices() *mockPrices {
	return &mockPrices{
		prices: map[string]float64{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (m *mockPrices) set(symbol string, price float64) {
	m.mu.Lock()
	m.prices[symbol] = price
	m.mu.Unlock()
}

func (m *mockPrices) GetPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	m.calls[symbol]++
	hook := m.hook
	price, err := m.prices[symbol], m.errs[symbol]
	m.mu.Unlock()

	if hook != nil {
		hook(symbol)
	}
	if err != nil {
		return 0, err
	}
	return price, nil
}

func (m *mockPrices) Samples() []models.PriceSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.PriceSample{}
	for s, p := range m.prices {
		out = append(out, models.PriceSample{Symbol: s, Price: p})
	}
	return out
}

func (m *mockPrices) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

type mockNotifier struct {
	mu     sync.Mutex
	events []models.Event
	ch     chan models.Event
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{ch: make(chan models.Event, 16)}
}

func (n *mockNotifier) Notify(event models.Event) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
	select {
	case n.ch <- event:
	default:
	}
}

func (n *mockNotifier) all() []models.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Event(nil), n.events...)
}

func insertTrade(t *testing.T, s *store.TradeStore, userID, id, symbol string, side models.TradeSide, stop *float64, status models.TradeStatus) models.Trade {
	t.Helper()
	trade, err := s.Insert(userID, models.TradeSuggestion{
		ID:         id,
		Asset:      symbol,
		Symbol:     symbol,
		Side:       side,
		Leverage:   5,
		Collateral: 100,
		EntryPrice: 3100,
		StopLoss:   stop,
	}, status)
	require.NoError(t, err)
	return trade
}

func newTestMonitor(trades *store.TradeStore, prices PriceSource, n Notifier) *StopLossMonitor {
	return NewStopLossMonitor(trades, prices, n, zap.NewNop(), time.Hour)
}

func TestShouldTriggerStopLoss(t *testing.T) {
	cases := []struct {
		name  string
		side  models.TradeSide
		price float64
		want  bool
	}{
		{"long below", models.SideLong, 2999.99, true},
		{"long equal", models.SideLong, 3000, true},
		{"long above", models.SideLong, 3000.01, false},
		{"short above", models.SideShort, 3000.01, true},
		{"short equal", models.SideShort, 3000, true},
		{"short below", models.SideShort, 2999.99, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trade := models.Trade{TradeSuggestion: models.TradeSuggestion{Side: tc.side, StopLoss: models.Float(3000)}}
			assert.Equal(t, tc.want, ShouldTriggerStopLoss(trade, tc.price))
		})
	}

	assert.False(t, ShouldTriggerStopLoss(models.Trade{TradeSuggestion: models.TradeSuggestion{Side: models.SideLong}}, 1))
	assert.False(t, ShouldTriggerStopLoss(models.Trade{TradeSuggestion: models.TradeSuggestion{Side: "FLAT", StopLoss: models.Float(3000)}}, 1))
}

func TestStopLossMonitor_ScenarioETHLong(t *testing.T) {
	trades := store.NewTradeStore()
	insertTrade(t, trades, "u1", "t1", "ETH", models.SideLong, models.Float(3000), models.StatusExecuted)
	prices := newMockPrices()
	notifier := newMockNotifier()
	monitor := newTestMonitor(trades, prices, notifier)

	prices.set("ETH", 3000.01)
	report := monitor.RunCycle(context.Background())
	assert.Equal(t, 0, report.Triggered)
	assert.Empty(t, notifier.all())

	prices.set("ETH", 2999.99)
	report = monitor.RunCycle(context.Background())
	assert.Equal(t, 1, report.Triggered)

	events := notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventStopLoss, events[0].Type)
	payload, ok := events[0].Payload.(models.StopLossTrigger)
	require.True(t, ok)
	assert.Equal(t, 2999.99, payload.TriggeredAtPrice)
	assert.Equal(t, "t1", payload.ID)
	assert.Equal(t, models.StatusExecuted, payload.Status)
	assert.False(t, payload.ExecutedAt.IsZero())
}

func TestStopLossMonitor_ShortTrigger(t *testing.T) {
	trades := store.NewTradeStore()
	insertTrade(t, trades, "u1", "s1", "BTC", models.SideShort, models.Float(60000), models.StatusExecuted)
	prices := newMockPrices()
	prices.set("BTC", 60000)
	notifier := newMockNotifier()

	report := newTestMonitor(trades, prices, notifier).RunCycle(context.Background())
	assert.Equal(t, 1, report.Triggered)
	require.Len(t, notifier.all(), 1)
}

func TestStopLossMonitor_IsolatesFailures(t *testing.T) {
	trades := store.NewTradeStore()
	insertTrade(t, trades, "u1", "a", "DOGE", models.SideLong, models.Float(1), models.StatusExecuted)
	insertTrade(t, trades, "u2", "b", "ETH", models.SideLong, models.Float(3000), models.StatusExecuted)
	insertTrade(t, trades, "u3", "c", "PANIC", models.SideLong, models.Float(1), models.StatusExecuted)

	prices := newMockPrices()
	prices.errs["DOGE"] = errors.New("feed unreachable")
	prices.set("ETH", 2500)
	prices.hook = func(symbol string) {
		if symbol == "PANIC" {
			panic("boom")
		}
	}
	notifier := newMockNotifier()

	report := newTestMonitor(trades, prices, notifier).RunCycle(context.Background())
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Triggered)

	events := notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].Payload.(models.StopLossTrigger).ID)

	a, _ := trades.Get("u1", "a")
	assert.Equal(t, a.CreatedAt, a.UpdatedAt, "failed trade is not touched")
}

func TestStopLossMonitor_IgnoresInactiveTrades(t *testing.T) {
	trades := store.NewTradeStore()
	for i, status := range []models.TradeStatus{models.StatusDraft, models.StatusStaged, models.StatusCancelled, models.StatusExpired} {
		insertTrade(t, trades, "u1", string(rune('a'+i)), "ETH", models.SideLong, models.Float(1e9), status)
	}
	insertTrade(t, trades, "u1", "nostop", "ETH", models.SideLong, nil, models.StatusExecuted)

	prices := newMockPrices()
	prices.set("ETH", 1)
	notifier := newMockNotifier()
	monitor := newTestMonitor(trades, prices, notifier)

	report := monitor.RunCycle(context.Background())
	assert.Equal(t, 0, report.Watched)
	assert.Equal(t, 0, prices.totalCalls(), "empty watch list makes no external calls")
	assert.Empty(t, notifier.all())
	assert.Equal(t, 0, monitor.Status().MonitoredTrades)
}

func TestStopLossMonitor_DoesNotRetrigger(t *testing.T) {
	trades := store.NewTradeStore()
	insertTrade(t, trades, "u1", "t1", "ETH", models.SideLong, models.Float(3000), models.StatusExecuted)
	prices := newMockPrices()
	prices.set("ETH", 2900)
	notifier := newMockNotifier()
	monitor := newTestMonitor(trades, prices, notifier)

	monitor.RunCycle(context.Background())
	report := monitor.RunCycle(context.Background())
	assert.Equal(t, 1, report.Suppressed)
	assert.Len(t, notifier.all(), 1)

	// moving the stop re-arms the trade
	_, ok := trades.Update("u1", "t1", models.TradePatch{StopLoss: models.Float(2950)})
	require.True(t, ok)
	report = monitor.RunCycle(context.Background())
	assert.Equal(t, 1, report.Triggered)
	assert.Len(t, notifier.all(), 2)
}

func TestStopLossMonitor_SkipsTradeChangedMidCycle(t *testing.T) {
	trades := store.NewTradeStore()
	insertTrade(t, trades, "u1", "t1", "ETH", models.SideLong, models.Float(3000), models.StatusExecuted)
	prices := newMockPrices()
	prices.set("ETH", 2000)
	cancelled := models.StatusCancelled
	prices.hook = func(string) {
		trades.Update("u1", "t1", models.TradePatch{Status: &cancelled})
	}
	notifier := newMockNotifier()

	report := newTestMonitor(trades, prices, notifier).RunCycle(context.Background())
	assert.Equal(t, 0, report.Triggered)
	assert.Empty(t, notifier.all())

	got, _ := trades.Get("u1", "t1")
	assert.Equal(t, models.StatusCancelled, got.Status)
}

func TestStopLossMonitor_OverlapGuard(t *testing.T) {
	trades := store.NewTradeStore()
	insertTrade(t, trades, "u1", "t1", "ETH", models.SideLong, models.Float(3000), models.StatusExecuted)

	entered := make(chan struct{})
	release := make(chan struct{})
	prices := newMockPrices()
	prices.set("ETH", 3500)
	prices.hook = func(string) {
		close(entered)
		<-release
	}
	monitor := newTestMonitor(trades, prices, newMockNotifier())

	done := make(chan CycleReport)
	go func() { done <- monitor.RunCycle(context.Background()) }()
	<-entered

	assert.True(t, monitor.RunCycle(context.Background()).Skipped)

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Checked)
}

func TestStopLossMonitor_StartStop(t *testing.T) {
	trades := store.NewTradeStore()
	insertTrade(t, trades, "u1", "t1", "ETH", models.SideLong, models.Float(3000), models.StatusExecuted)
	prices := newMockPrices()
	prices.set("ETH", 2000)
	notifier := newMockNotifier()
	monitor := newTestMonitor(trades, prices, notifier)

	monitor.Start()
	monitor.Start() // no-op
	assert.True(t, monitor.IsRunning())

	select {
	case ev := <-notifier.ch:
		assert.Equal(t, models.EventStopLoss, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an immediate cycle on start")
	}

	monitor.Stop()
	assert.False(t, monitor.IsRunning())
	monitor.Stop() // idempotent
}

func TestStopLossMonitor_Status(t *testing.T) {
	trades := store.NewTradeStore()
	insertTrade(t, trades, "u1", "t1", "ETH", models.SideLong, models.Float(3000), models.StatusExecuted)
	insertTrade(t, trades, "u1", "t2", "ETH", models.SideLong, models.Float(3000), models.StatusDraft)
	prices := newMockPrices()
	prices.set("ETH", 3100)

	status := newTestMonitor(trades, prices, newMockNotifier()).Status()
	assert.False(t, status.IsRunning)
	assert.Equal(t, 1, status.MonitoredTrades)
	require.Len(t, status.CachedPrices, 1)
	assert.Equal(t, "ETH", status.CachedPrices[0].Symbol)
}

func TestStopLossMonitor_CheckTrade(t *testing.T) {
	trades := store.NewTradeStore()
	insertTrade(t, trades, "u1", "open", "ETH", models.SideLong, models.Float(3000), models.StatusExecuted)
	insertTrade(t, trades, "u1", "draft", "ETH", models.SideLong, models.Float(3000), models.StatusDraft)
	prices := newMockPrices()
	prices.set("ETH", 2990)
	notifier := newMockNotifier()
	monitor := newTestMonitor(trades, prices, notifier)

	_, err := monitor.CheckTrade(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	res, err := monitor.CheckTrade(context.Background(), "draft")
	require.NoError(t, err)
	assert.False(t, res.Monitored)
	assert.Equal(t, 0, prices.totalCalls())

	res, err = monitor.CheckTrade(context.Background(), "open")
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, 2990.0, res.Price)

	res, err = monitor.CheckTrade(context.Background(), "open")
	require.NoError(t, err)
	assert.True(t, res.AlreadyNotified)
	assert.Len(t, notifier.all(), 1)
}

func TestStopLossMonitor_CheckTradeConcurrentWithCycle(t *testing.T) {
	trades := store.NewTradeStore()
	insertTrade(t, trades, "u1", "t1", "ETH", models.SideLong, models.Float(3000), models.StatusExecuted)
	prices := newMockPrices()
	prices.set("ETH", 2999.99)

	// both evaluations sit inside GetPrice before either one updates the ledger
	var arrived sync.WaitGroup
	arrived.Add(2)
	prices.hook = func(string) {
		arrived.Done()
		arrived.Wait()
	}
	notifier := newMockNotifier()
	monitor := newTestMonitor(trades, prices, notifier)

	var (
		wg     sync.WaitGroup
		report CycleReport
		res    CheckResult
		err    error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		report = monitor.RunCycle(context.Background())
	}()
	go func() {
		defer wg.Done()
		res, err = monitor.CheckTrade(context.Background(), "t1")
	}()
	wg.Wait()

	require.NoError(t, err)
	assert.Len(t, notifier.all(), 1, "one trigger emits one event")

	cycleWon := report.Triggered == 1
	assert.NotEqual(t, cycleWon, res.Triggered, "exactly one caller performs the close")
	if cycleWon {
		assert.True(t, res.AlreadyNotified)
	}

	prices.hook = nil
	assert.Equal(t, 1, monitor.RunCycle(context.Background()).Suppressed)
	assert.Len(t, notifier.all(), 1)
}
