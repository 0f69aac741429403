package market

import (
	"fmt"
	"sort"
	"strings"
)

// Orderable columns of the market listing.
var orderKeys = map[string]func(Coin) float64{
	"current_price": func(c Coin) float64 { return c.CurrentPrice },
	"market_cap":    func(c Coin) float64 { return c.MarketCap },
	"total_volume":  func(c Coin) float64 { return c.TotalVolume },
	"gains":         func(c Coin) float64 { return c.Gains },
	"losses":        func(c Coin) float64 { return c.Losses },
}

// Query narrows and orders a market listing. Nil bounds are open.
type Query struct {
	Search   string
	MinPrice *float64
	MaxPrice *float64
	OrderBy  string
	Desc     bool
}

// Filter applies q to coins and returns a new slice.
func Filter(coins []Coin, q Query) ([]Coin, error) {
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "market_cap"
	}
	key, ok := orderKeys[orderBy]
	if !ok {
		return nil, fmt.Errorf("cannot order by %q", q.OrderBy)
	}

	search := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]Coin, 0, len(coins))
	for _, c := range coins {
		if search != "" && !strings.Contains(strings.ToLower(c.Name), search) && !strings.Contains(strings.ToLower(c.Symbol), search) {
			continue
		}
		if q.MinPrice != nil && c.CurrentPrice < *q.MinPrice {
			continue
		}
		if q.MaxPrice != nil && c.CurrentPrice > *q.MaxPrice {
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.Desc {
			return key(out[i]) > key(out[j])
		}
		return key(out[i]) < key(out[j])
	})
	return out, nil
}

// WithSMA fills the simple moving average over window samples. Points before
// the window is full keep a nil SMA.
func WithSMA(points []PricePoint, window int) []PricePoint {
	if window <= 0 {
		return points
	}
	var sum float64
	for i := range points {
		sum += points[i].Price
		if i >= window {
			sum -= points[i-window].Price
		}
		if i >= window-1 {
			avg := sum / float64(window)
			points[i].SMA = &avg
		}
	}
	return points
}
