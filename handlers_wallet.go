package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

const maxWalletField = 128

// pathUID parses the {uid} route variable, writing a 400 on failure.
func pathUID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	uid, err := strconv.ParseInt(mux.Vars(r)["uid"], 10, 64)
	if err != nil || uid <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user id")
		return 0, false
	}
	return uid, true
}

// bodyUID returns the uid named in a request body, defaulting to the caller.
func bodyUID(r *http.Request, uid *int64) int64 {
	if uid != nil {
		return *uid
	}
	if id, ok := IdentityFrom(r.Context()); ok {
		return id.UserID
	}
	return 0
}

// GET /wallet/{uid}
func (a *App) HandleListWallets(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathUID(w, r)
	if !ok {
		return
	}
	if _, ok := a.requireOwner(w, r, uid); !ok {
		return
	}
	wallets, err := a.DB.ListWallets(r.Context(), uid)
	if err != nil {
		writeStoreError(w, r, err, "", "")
		return
	}
	out := make([]walletResponse, 0, len(wallets))
	for _, wl := range wallets {
		out = append(out, toWalletResponse(wl))
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /wallet/
func (a *App) HandleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UID     *int64 `json:"uid"`
		Name    string `json:"wname"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	id, ok := a.requireOwner(w, r, bodyUID(r, in.UID))
	if !ok {
		return
	}

	in.Name = strings.TrimSpace(in.Name)
	in.Address = strings.TrimSpace(in.Address)
	if in.Name == "" || in.Address == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Wallet name and address are required")
		return
	}
	if len(in.Name) > maxWalletField || len(in.Address) > maxWalletField || strings.ContainsAny(in.Address, " \t\r\n") {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Wallet name or address is malformed")
		return
	}

	wl, err := a.DB.CreateWallet(r.Context(), id.UserID, in.Name, in.Address)
	if err != nil {
		writeStoreError(w, r, err, "User not found", "A wallet with this name already exists")
		return
	}
	writeJSON(w, http.StatusOK, toWalletResponse(wl))
}

// DELETE /wallet/{uid}/{wname}
func (a *App) HandleDeleteWallet(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathUID(w, r)
	if !ok {
		return
	}
	if _, ok := a.requireOwner(w, r, uid); !ok {
		return
	}
	name := mux.Vars(r)["wname"]
	if err := a.DB.DeleteWallet(r.Context(), uid, name); err != nil {
		writeStoreError(w, r, err, "Wallet not found", "")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"deleted": true})
}
