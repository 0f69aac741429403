package main

import "time"

// User represents a registered account. PasswordHash never leaves the server.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Identity is what the authorization gate resolves a bearer token to.
type Identity struct {
	UserID   int64
	Username string
	Email    string
}

// Wallet is a named address owned by exactly one user.
type Wallet struct {
	ID        int64
	UserID    int64
	Name      string
	Address   string
	CreatedAt time.Time
}

// Holding is a portfolio position: units of one asset held by one user.
type Holding struct {
	UserID    int64
	Asset     string
	Units     float64
	UpdatedAt time.Time
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type walletResponse struct {
	ID      int64  `json:"id"`
	UID     int64  `json:"uid"`
	Name    string `json:"wname"`
	Address string `json:"address"`
}

type holdingResponse struct {
	Asset         string  `json:"asset"`
	Units         float64 `json:"units"`
	PriceUSD      float64 `json:"price_usd"`
	ValueUSD      float64 `json:"value_usd"`
	AllocationPct float64 `json:"allocation_pct"`
}

func toUserResponse(u *User) userResponse {
	return userResponse{ID: u.ID, Username: u.Username, Email: u.Email}
}

func toWalletResponse(w *Wallet) walletResponse {
	return walletResponse{ID: w.ID, UID: w.UserID, Name: w.Name, Address: w.Address}
}
