package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/example/cointrack/internal/market"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

const (
	defaultChartDays = 14
	maxChartDays     = 365
	defaultSMAWindow = 5
)

// writeMarketError maps market client failures to responses. The API never
// crashes on an upstream failure; it answers 502 instead.
func writeMarketError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, market.ErrUnknownCoin) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown coin")
		return
	}
	log.WithError(err).WithField("path", r.URL.Path).Warn("market data unavailable")
	writeError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Market data is currently unavailable")
}

func queryFloat(r *http.Request, key string) (*float64, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func queryInt(r *http.Request, key string, def, min, max int) (int, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		return 0, false
	}
	return n, true
}

// GET /market/coins
func (a *App) HandleCoins(w http.ResponseWriter, r *http.Request) {
	q := market.Query{
		Search:  r.URL.Query().Get("search"),
		OrderBy: r.URL.Query().Get("order_by"),
		Desc:    true,
	}
	var err error
	if q.MinPrice, err = queryFloat(r, "min_price"); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "min_price must be a number")
		return
	}
	if q.MaxPrice, err = queryFloat(r, "max_price"); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "max_price must be a number")
		return
	}
	switch strings.ToLower(r.URL.Query().Get("order")) {
	case "", "desc":
	case "asc":
		q.Desc = false
	default:
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "order must be asc or desc")
		return
	}

	coins, err := a.Market.Markets(r.Context(), vsCurrency)
	if err != nil {
		writeMarketError(w, r, err)
		return
	}
	out, err := market.Filter(coins, q)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /market/coins/{id}
func (a *App) HandleCoin(w http.ResponseWriter, r *http.Request) {
	coin, err := a.Market.Coin(r.Context(), mux.Vars(r)["id"], vsCurrency)
	if err != nil {
		writeMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, coin)
}

// GET /market/coins/{id}/chart
func (a *App) HandleChart(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(r, "days", defaultChartDays, 1, maxChartDays)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "days must be between 1 and 365")
		return
	}
	window, ok := queryInt(r, "sma", defaultSMAWindow, 1, maxChartDays*24)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "sma must be a positive integer")
		return
	}

	id := mux.Vars(r)["id"]
	points, err := a.Market.Chart(r.Context(), id, vsCurrency, days)
	if err != nil {
		writeMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"days":   days,
		"sma":    window,
		"prices": market.WithSMA(points, window),
	})
}

// GET /market/price/{id}
func (a *App) HandlePrice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	price, err := a.Market.Price(r.Context(), id, vsCurrency)
	if err != nil {
		writeMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "currency": vsCurrency, "price": price})
}
