package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradegpt-backend/internal/models"
)

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3"

var coinGeckoIDs = map[string]string{
	"ETH":  "ethereum",
	"BTC":  "bitcoin",
	"SOL":  "solana",
	"STT":  "scattered-truth",
	"USDC": "usd-coin",
	"USDT": "tether",
}

// SnapshotProvider returns a market overview for a symbol.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, symbol string) (*models.MarketSnapshot, error)
}

type marketChartResponse struct {
	Prices       [][2]float64 `json:"prices"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

// CoinGeckoClient builds market snapshots from the CoinGecko public API.
type CoinGeckoClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

func NewCoinGeckoClient(endpoint, apiKey string, logger *zap.Logger) *CoinGeckoClient {
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = defaultCoinGeckoEndpoint
	}
	return &CoinGeckoClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

func (m *CoinGeckoClient) Snapshot(ctx context.Context, symbol string) (*models.MarketSnapshot, error) {
	upper := strings.ToUpper(symbol)
	coinID, ok := coinGeckoIDs[upper]
	if !ok {
		coinID = strings.ToLower(upper)
	}

	price, change, err := m.spotPrice(ctx, coinID)
	if err != nil {
		m.logger.Warn("market data fetch failed", zap.String("symbol", upper), zap.Error(err))
		return nil, fmt.Errorf("unable to fetch market data for %s: %w: %w", upper, models.ErrExternalFetch, err)
	}

	// Historical data may need a paid plan; the snapshot degrades to defaults.
	prices, volumes, err := m.marketChart(ctx, coinID)
	if err != nil {
		m.logger.Debug("historical data not available", zap.String("symbol", upper), zap.Error(err))
	}

	snap := &models.MarketSnapshot{
		Symbol:     upper,
		Price:      price,
		Change24h:  change,
		RSI:        calculateRSI(prices, 14),
		Support:    round2(price * 0.97),
		Resistance: round2(price * 1.03),
	}
	if len(volumes) > 0 {
		snap.Volume24h = volumes[len(volumes)-1]
	}
	if window := lastN(prices, 20); len(window) > 0 {
		lo, hi := window[0], window[0]
		for _, p := range window[1:] {
			lo = math.Min(lo, p)
			hi = math.Max(hi, p)
		}
		snap.Support = round2(lo)
		snap.Resistance = round2(hi)
	}

	m.logger.Info("market snapshot",
		zap.String("symbol", upper),
		zap.Float64("price", snap.Price),
		zap.Float64("change24h", snap.Change24h))
	return snap, nil
}

func (m *CoinGeckoClient) spotPrice(ctx context.Context, coinID string) (float64, float64, error) {
	q := url.Values{}
	q.Set("ids", coinID)
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")

	var payload map[string]map[string]float64
	if err := m.getJSON(ctx, "/simple/price?"+q.Encode(), &payload); err != nil {
		return 0, 0, err
	}
	quote, ok := payload[coinID]
	if !ok {
		return 0, 0, fmt.Errorf("price data missing for %s", coinID)
	}
	price, ok := quote["usd"]
	if !ok || price <= 0 {
		return 0, 0, fmt.Errorf("no usd price for %s", coinID)
	}
	return price, quote["usd_24h_change"], nil
}

func (m *CoinGeckoClient) marketChart(ctx context.Context, coinID string) ([]float64, []float64, error) {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("days", "1")
	q.Set("interval", "hourly")

	var chart marketChartResponse
	if err := m.getJSON(ctx, "/coins/"+url.PathEscape(coinID)+"/market_chart?"+q.Encode(), &chart); err != nil {
		return nil, nil, err
	}
	prices := make([]float64, 0, len(chart.Prices))
	for _, p := range chart.Prices {
		prices = append(prices, p[1])
	}
	volumes := make([]float64, 0, len(chart.TotalVolumes))
	for _, v := range chart.TotalVolumes {
		volumes = append(volumes, v[1])
	}
	return prices, volumes, nil
}

func (m *CoinGeckoClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoint+path, nil)
	if err != nil {
		return err
	}
	if m.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

// calculateRSI is Wilder's RSI. Short series report a neutral 50, a series
// without losses reports 70.
func calculateRSI(prices []float64, period int) float64 {
	if len(prices) <= period {
		return 50
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		delta := prices[i] - prices[i-1]
		if delta >= 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	gains /= float64(period)
	losses /= float64(period)

	p := float64(period)
	for i := period + 1; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta >= 0 {
			gains = (gains*(p-1) + delta) / p
			losses = (losses * (p - 1)) / p
		} else {
			gains = (gains * (p - 1)) / p
			losses = (losses*(p-1) - delta) / p
		}
	}

	if losses == 0 {
		return 70
	}
	rs := gains / losses
	return round2(100 - 100/(1+rs))
}

func lastN(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
