package main

import (
	"encoding/json"
	"math"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type portfolioResponse struct {
	UID      int64             `json:"uid"`
	Holdings []holdingResponse `json:"holdings"`
	TotalUSD float64           `json:"total_usd"`
	Warning  string            `json:"warning,omitempty"`
}

// valuate prices holdings. Missing prices count as zero.
func valuate(uid int64, holdings []*Holding, prices map[string]float64) portfolioResponse {
	out := portfolioResponse{UID: uid, Holdings: make([]holdingResponse, 0, len(holdings))}
	for _, h := range holdings {
		p := prices[h.Asset]
		v := p * h.Units
		out.TotalUSD += v
		out.Holdings = append(out.Holdings, holdingResponse{Asset: h.Asset, Units: h.Units, PriceUSD: p, ValueUSD: v})
	}
	if out.TotalUSD > 0 {
		for i := range out.Holdings {
			out.Holdings[i].AllocationPct = out.Holdings[i].ValueUSD / out.TotalUSD * 100
		}
	}
	return out
}

// GET /portfolio/{uid}
func (a *App) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathUID(w, r)
	if !ok {
		return
	}
	if _, ok := a.requireOwner(w, r, uid); !ok {
		return
	}
	holdings, err := a.DB.ListHoldings(r.Context(), uid)
	if err != nil {
		writeStoreError(w, r, err, "", "")
		return
	}
	if len(holdings) == 0 {
		writeJSON(w, http.StatusOK, valuate(uid, nil, nil))
		return
	}

	ids := make([]string, 0, len(holdings))
	for _, h := range holdings {
		ids = append(ids, h.Asset)
	}
	prices := make(map[string]float64, len(ids))
	var warning string
	coins, err := a.Market.Markets(r.Context(), vsCurrency, ids...)
	if err != nil {
		log.WithError(err).WithField("user_id", uid).Warn("portfolio valued without prices")
		warning = "Market data is currently unavailable; values are shown as zero"
	}
	for _, c := range coins {
		prices[c.ID] = c.CurrentPrice
	}

	resp := valuate(uid, holdings, prices)
	resp.Warning = warning
	writeJSON(w, http.StatusOK, resp)
}

// POST /portfolio/
func (a *App) HandleAddHolding(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UID   *int64  `json:"uid"`
		Asset string  `json:"asset"`
		Units float64 `json:"units"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	id, ok := a.requireOwner(w, r, bodyUID(r, in.UID))
	if !ok {
		return
	}

	in.Asset = strings.ToLower(strings.TrimSpace(in.Asset))
	if in.Asset == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Asset is required")
		return
	}
	if !(in.Units > 0) || math.IsInf(in.Units, 0) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Units must be greater than zero")
		return
	}

	// only coins the market knows about can be held
	price, err := a.Market.Price(r.Context(), in.Asset, vsCurrency)
	if err != nil {
		writeMarketError(w, r, err)
		return
	}

	h, err := a.DB.AddHolding(r.Context(), id.UserID, in.Asset, in.Units)
	if err != nil {
		writeStoreError(w, r, err, "User not found", "")
		return
	}
	writeJSON(w, http.StatusOK, holdingResponse{
		Asset:    h.Asset,
		Units:    h.Units,
		PriceUSD: price,
		ValueUSD: price * h.Units,
	})
}

// DELETE /portfolio/{uid}/{asset}
func (a *App) HandleDeleteHolding(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathUID(w, r)
	if !ok {
		return
	}
	if _, ok := a.requireOwner(w, r, uid); !ok {
		return
	}
	asset := strings.ToLower(mux.Vars(r)["asset"])
	if err := a.DB.DeleteHolding(r.Context(), uid, asset); err != nil {
		writeStoreError(w, r, err, "Holding not found", "")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"deleted": true})
}
