package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCoins() []Coin {
	return []Coin{
		{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: 64000, MarketCap: 1200, TotalVolume: 30, Gains: 2.5},
		{ID: "ethereum", Symbol: "eth", Name: "Ethereum", CurrentPrice: 3100, MarketCap: 370, TotalVolume: 15, Losses: -1.2},
		{ID: "cardano", Symbol: "ada", Name: "Cardano", CurrentPrice: 0.45, MarketCap: 16, TotalVolume: 0.4, Gains: 0.3},
		{ID: "wrapped-bitcoin", Symbol: "wbtc", Name: "Wrapped Bitcoin", CurrentPrice: 63900, MarketCap: 9, TotalVolume: 0.2},
	}
}

func ids(coins []Coin) []string {
	out := make([]string, len(coins))
	for i, c := range coins {
		out[i] = c.ID
	}
	return out
}

func TestFilter(t *testing.T) {
	ptr := func(f float64) *float64 { return &f }

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"default orders by market cap ascending", Query{}, []string{"wrapped-bitcoin", "cardano", "ethereum", "bitcoin"}},
		{"search by name is case insensitive", Query{Search: "BITCOIN", Desc: true}, []string{"bitcoin", "wrapped-bitcoin"}},
		{"search by symbol", Query{Search: "ada"}, []string{"cardano"}},
		{"price range", Query{MinPrice: ptr(1), MaxPrice: ptr(10000)}, []string{"ethereum"}},
		{"order by price desc", Query{OrderBy: "current_price", Desc: true}, []string{"bitcoin", "wrapped-bitcoin", "ethereum", "cardano"}},
		{"order by losses", Query{OrderBy: "losses"}, []string{"ethereum", "bitcoin", "cardano", "wrapped-bitcoin"}},
		{"order by gains desc", Query{OrderBy: "gains", Desc: true}, []string{"bitcoin", "cardano", "ethereum", "wrapped-bitcoin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Filter(sampleCoins(), tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestFilterRejectsUnknownOrder(t *testing.T) {
	_, err := Filter(sampleCoins(), Query{OrderBy: "name; drop table"})
	assert.Error(t, err)
}

func TestWithSMA(t *testing.T) {
	points := []PricePoint{{Price: 1}, {Price: 2}, {Price: 3}, {Price: 4}, {Price: 5}, {Price: 6}}
	points = WithSMA(points, 5)

	for i := 0; i < 4; i++ {
		assert.Nil(t, points[i].SMA, "point %d", i)
	}
	require.NotNil(t, points[4].SMA)
	assert.InDelta(t, 3.0, *points[4].SMA, 1e-9)
	require.NotNil(t, points[5].SMA)
	assert.InDelta(t, 4.0, *points[5].SMA, 1e-9)
}

func TestWithSMAWindowLargerThanSeries(t *testing.T) {
	points := WithSMA([]PricePoint{{Price: 1}, {Price: 2}}, 5)
	assert.Nil(t, points[0].SMA)
	assert.Nil(t, points[1].SMA)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), b)

	now = now.Add(time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "zero", []byte("v"), 0))
	_, ok, _ = c.Get(ctx, "zero")
	assert.False(t, ok)
}
