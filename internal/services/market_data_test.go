package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradegpt-backend/internal/models"
)

func TestCalculateRSI(t *testing.T) {
	assert.Equal(t, 50.0, calculateRSI([]float64{1, 2, 3}, 14))

	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	assert.Equal(t, 70.0, calculateRSI(rising, 14))

	falling := make([]float64, 20)
	for i := range falling {
		falling[i] = float64(100 - i)
	}
	assert.Equal(t, 0.0, calculateRSI(falling, 14))

	mixed := []float64{44, 44.5, 44, 44.5, 44, 44.5, 44, 44.5, 44, 44.5, 44, 44.5, 44, 44.5, 44, 44.5}
	rsi := calculateRSI(mixed, 14)
	assert.Greater(t, rsi, 0.0)
	assert.Less(t, rsi, 100.0)
}

func TestCoinGeckoClient_Snapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-cg-demo-api-key"))
		switch {
		case r.URL.Path == "/simple/price":
			assert.Equal(t, "ethereum", r.URL.Query().Get("ids"))
			_, _ = w.Write([]byte(`{"ethereum":{"usd":3100.5,"usd_24h_change":2.25}}`))
		case strings.HasPrefix(r.URL.Path, "/coins/ethereum/market_chart"):
			_, _ = w.Write([]byte(`{"prices":[[1,3000],[2,3200],[3,3100]],"total_volumes":[[1,10],[3,12.5]]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewCoinGeckoClient(srv.URL, "secret", zap.NewNop())
	snap, err := client.Snapshot(context.Background(), "eth")
	require.NoError(t, err)

	assert.Equal(t, "ETH", snap.Symbol)
	assert.Equal(t, 3100.5, snap.Price)
	assert.Equal(t, 2.25, snap.Change24h)
	assert.Equal(t, 12.5, snap.Volume24h)
	assert.Equal(t, 3000.0, snap.Support)
	assert.Equal(t, 3200.0, snap.Resistance)
	assert.Equal(t, 50.0, snap.RSI)
}

func TestCoinGeckoClient_SnapshotWithoutHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/simple/price" {
			_, _ = w.Write([]byte(`{"bitcoin":{"usd":100}}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	snap, err := NewCoinGeckoClient(srv.URL, "", zap.NewNop()).Snapshot(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 97.0, snap.Support)
	assert.Equal(t, 103.0, snap.Resistance)
}

func TestCoinGeckoClient_SnapshotFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewCoinGeckoClient(srv.URL, "", zap.NewNop()).Snapshot(context.Background(), "SOL")
	assert.ErrorIs(t, err, models.ErrExternalFetch)
}
