// Package market is a small client for the CoinGecko public API: live market
// listings, simple prices and historical charts.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	// ErrUpstream means the market API was unreachable or answered with an error.
	ErrUpstream = errors.New("market data unavailable")
	// ErrUnknownCoin means the API has no data for the requested coin id.
	ErrUnknownCoin = errors.New("unknown coin")
)

const maxBody = 8 << 20

// Coin is one row of the /coins/markets listing.
type Coin struct {
	ID                       string  `json:"id"`
	Symbol                   string  `json:"symbol"`
	Name                     string  `json:"name"`
	Image                    string  `json:"image,omitempty"`
	CurrentPrice             float64 `json:"current_price"`
	MarketCap                float64 `json:"market_cap"`
	TotalVolume              float64 `json:"total_volume"`
	High24h                  float64 `json:"high_24h"`
	Low24h                   float64 `json:"low_24h"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
	Gains                    float64 `json:"gains"`
	Losses                   float64 `json:"losses"`
}

// PricePoint is a sample of the historical chart. SMA is set once enough
// preceding samples exist to fill the averaging window.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	SMA       *float64  `json:"sma,omitempty"`
}

// Client talks to the CoinGecko v3 REST API.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	cache   Cache
	ttl     time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit throttles outbound calls to perMinute with a burst of the same size.
func WithRateLimit(perMinute int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(perMinute)/60, perMinute)
	}
}

// WithCache stores raw responses for ttl.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.ttl = ttl
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Markets lists coins priced in vs. When ids are given only those coins are returned.
func (c *Client) Markets(ctx context.Context, vs string, ids ...string) ([]Coin, error) {
	q := url.Values{"vs_currency": {vs}}
	if len(ids) > 0 {
		q.Set("ids", strings.Join(ids, ","))
	}
	var coins []Coin
	if err := c.get(ctx, "/coins/markets", q, &coins); err != nil {
		return nil, err
	}
	for i := range coins {
		coins[i].Gains, coins[i].Losses = splitChange(coins[i].PriceChangePercentage24h)
	}
	return coins, nil
}

// Coin returns the market row for a single coin.
func (c *Client) Coin(ctx context.Context, id, vs string) (*Coin, error) {
	coins, err := c.Markets(ctx, vs, id)
	if err != nil {
		return nil, err
	}
	for i := range coins {
		if coins[i].ID == id {
			return &coins[i], nil
		}
	}
	return nil, oops.Code("MARKET_UNKNOWN_COIN").With("id", id).Wrap(ErrUnknownCoin)
}

// Chart returns the price history of the last days days.
func (c *Client) Chart(ctx context.Context, id, vs string, days int) ([]PricePoint, error) {
	q := url.Values{"vs_currency": {vs}, "days": {strconv.Itoa(days)}}
	var body struct {
		Prices [][]float64 `json:"prices"`
	}
	if err := c.get(ctx, "/coins/"+url.PathEscape(id)+"/market_chart", q, &body); err != nil {
		return nil, err
	}
	points := make([]PricePoint, 0, len(body.Prices))
	for _, p := range body.Prices {
		if len(p) < 2 {
			continue
		}
		points = append(points, PricePoint{Timestamp: time.UnixMilli(int64(p[0])).UTC(), Price: p[1]})
	}
	return points, nil
}

// Price returns the current price of id in vs.
func (c *Client) Price(ctx context.Context, id, vs string) (float64, error) {
	q := url.Values{"ids": {id}, "vs_currencies": {vs}}
	var body map[string]map[string]float64
	if err := c.get(ctx, "/simple/price", q, &body); err != nil {
		return 0, err
	}
	price, ok := body[id][vs]
	if !ok {
		return 0, oops.Code("MARKET_UNKNOWN_COIN").With("id", id).Wrap(ErrUnknownCoin)
	}
	return price, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	key := path + "?" + q.Encode()

	if c.cache != nil {
		b, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("market cache read failed")
		}
		if ok && json.Unmarshal(b, out) == nil {
			return nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return oops.Code("MARKET_THROTTLED").With("path", path).Wrap(fmt.Errorf("%w: %v", ErrUpstream, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+key, nil)
	if err != nil {
		return oops.Code("MARKET_REQUEST_FAILED").With("path", path).Wrap(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return oops.Code("MARKET_UNREACHABLE").With("path", path).Wrap(fmt.Errorf("%w: %v", ErrUpstream, err))
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return oops.Code("MARKET_READ_FAILED").With("path", path).Wrap(fmt.Errorf("%w: %v", ErrUpstream, err))
	}
	if resp.StatusCode == http.StatusNotFound {
		return oops.Code("MARKET_UNKNOWN_COIN").With("path", path).Wrap(ErrUnknownCoin)
	}
	if resp.StatusCode != http.StatusOK {
		return oops.Code("MARKET_BAD_STATUS").With("path", path).With("status", resp.StatusCode).
			Wrap(fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode))
	}
	if err := json.Unmarshal(b, out); err != nil {
		return oops.Code("MARKET_DECODE_FAILED").With("path", path).Wrap(fmt.Errorf("%w: %v", ErrUpstream, err))
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, b, c.ttl); err != nil {
			log.WithError(err).WithField("key", key).Warn("market cache write failed")
		}
	}
	return nil
}

func splitChange(pct float64) (gains, losses float64) {
	if pct > 0 {
		return pct, 0
	}
	if pct < 0 {
		return 0, pct
	}
	return 0, 0
}
