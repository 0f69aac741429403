package main

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/example/cointrack/internal/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coinIDs(t *testing.T, body []byte) []string {
	t.Helper()
	var coins []market.Coin
	require.NoError(t, json.Unmarshal(body, &coins))
	ids := make([]string, 0, len(coins))
	for _, c := range coins {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestHandleCoins(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"default market cap desc", "", []string{"bitcoin", "ethereum", "dogecoin"}},
		{"ascending price", "?order_by=current_price&order=asc", []string{"dogecoin", "ethereum", "bitcoin"}},
		{"search symbol", "?search=ETH", []string{"ethereum"}},
		{"price range", "?min_price=1&max_price=10000", []string{"ethereum"}},
		{"by losses", "?order_by=losses", []string{"ethereum", "bitcoin", "dogecoin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/market/coins"+tt.query, "", nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.want, coinIDs(t, rec.Body.Bytes()))
		})
	}
}

func TestHandleCoinsBadQuery(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"?min_price=cheap", "?max_price=x", "?order=sideways", "?order_by=name"} {
		rec := env.do(t, http.MethodGet, "/market/coins"+q, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestHandleCoinAndPrice(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/market/coins/bitcoin", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var c market.Coin
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, "Bitcoin", c.Name)

	rec = env.do(t, http.MethodGet, "/market/coins/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/market/price/ethereum", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"ethereum","currency":"usd","price":2500}`, rec.Body.String())
}

func TestHandleChart(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range []float64{1, 2, 3, 4} {
		env.market.chart = append(env.market.chart, market.PricePoint{Timestamp: base.Add(time.Duration(i) * time.Hour), Price: p})
	}

	rec := env.do(t, http.MethodGet, "/market/coins/bitcoin/chart?days=7&sma=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Days   int                 `json:"days"`
		SMA    int                 `json:"sma"`
		Prices []market.PricePoint `json:"prices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 7, out.Days)
	require.Len(t, out.Prices, 4)
	assert.Nil(t, out.Prices[0].SMA)
	require.NotNil(t, out.Prices[3].SMA)
	assert.InDelta(t, 3.5, *out.Prices[3].SMA, 1e-9)

	rec = env.do(t, http.MethodGet, "/market/coins/bitcoin/chart?days=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/market/coins/bitcoin/chart?sma=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarketUpstreamFailureIs502(t *testing.T) {
	env := newTestEnv(t)
	env.market.err = market.ErrUpstream

	for _, path := range []string{"/market/coins", "/market/coins/bitcoin", "/market/coins/bitcoin/chart", "/market/price/bitcoin"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code, path)
		assert.Equal(t, "UPSTREAM_ERROR", decodeError(t, rec).Code)
	}
}
