package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/sync/singleflight"

	"tradegpt-backend/internal/models"
)

const (
	DefaultPriceTTL          = 5 * time.Second
	DefaultPriceFetchTimeout = 5 * time.Second
)

// PriceFeed fetches the latest traded price for a symbol.
type PriceFeed interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// BinanceFeed reads spot ticker prices quoted in USDT.
type BinanceFeed struct {
	client *binance.Client
}

func NewBinanceFeed(baseURL string) *BinanceFeed {
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	client.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	return &BinanceFeed{client: client}
}

func (f *BinanceFeed) Price(ctx context.Context, symbol string) (float64, error) {
	pair := strings.ToUpper(symbol) + "USDT"
	prices, err := f.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ticker %s: %w", pair, err)
	}
	for _, p := range prices {
		if p.Symbol != pair {
			continue
		}
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return 0, fmt.Errorf("could not parse '%s' as float: %w", p.Price, err)
		}
		return price, nil
	}
	return 0, fmt.Errorf("no ticker returned for %s", pair)
}

// PriceCache shields the feed from request storms. Samples older than the TTL
// are refetched, never served stale.
type PriceCache struct {
	feed    PriceFeed
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	samples map[string]models.PriceSample
	group   singleflight.Group
}

func NewPriceCache(feed PriceFeed, ttl, timeout time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	if timeout <= 0 {
		timeout = DefaultPriceFetchTimeout
	}
	return &PriceCache{
		feed:    feed,
		ttl:     ttl,
		timeout: timeout,
		now:     time.Now,
		samples: make(map[string]models.PriceSample),
	}
}

// GetPrice returns a fresh cached price or fetches one. Errors wrap
// models.ErrExternalFetch.
func (c *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(symbol)
	if s, ok := c.fresh(symbol); ok {
		return s.Price, nil
	}

	// the shared fetch outlives any one caller; each caller still stops
	// waiting when its own ctx ends
	flight := c.group.DoChan(symbol, func() (interface{}, error) {
		if s, ok := c.fresh(symbol); ok {
			return s.Price, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		price, err := c.feed.Price(fetchCtx, symbol)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
			return nil, fmt.Errorf("malformed price %v", price)
		}

		c.mu.Lock()
		c.samples[symbol] = models.PriceSample{Symbol: symbol, Price: price, FetchedAt: c.now()}
		c.mu.Unlock()
		return price, nil
	})

	var (
		v   interface{}
		err error
	)
	select {
	case res := <-flight:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", c.timeout, err)
		}
		return 0, fmt.Errorf("price %s: %w: %w", symbol, models.ErrExternalFetch, err)
	}
	return v.(float64), nil
}

func (c *PriceCache) fresh(symbol string) (models.PriceSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.samples[symbol]
	if !ok || c.now().Sub(s.FetchedAt) >= c.ttl {
		return models.PriceSample{}, false
	}
	return s, true
}

// Samples lists the cache contents ordered by symbol.
func (c *PriceCache) Samples() []models.PriceSample {
	c.mu.RLock()
	out := make([]models.PriceSample, 0, len(c.samples))
	for _, s := range c.samples {
		out = append(out, s)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
