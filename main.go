package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/example/cointrack/internal/config"
	"github.com/example/cointrack/internal/dbmigrate"
	"github.com/example/cointrack/internal/market"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	tokenIssuer = "cointrack"
	vsCurrency  = "usd"
)

// MarketData is the slice of the market client the handlers use.
type MarketData interface {
	Markets(ctx context.Context, vs string, ids ...string) ([]market.Coin, error)
	Coin(ctx context.Context, id, vs string) (*market.Coin, error)
	Chart(ctx context.Context, id, vs string, days int) ([]market.PricePoint, error)
	Price(ctx context.Context, id, vs string) (float64, error)
}

type App struct {
	DB             DB
	Hasher         *PasswordHasher
	Tokens         *TokenIssuer
	Market         MarketData
	AllowedOrigins []string

	// digest compared against when the login identifier is unknown
	dummyHash string
}

func NewApp(db DB, hasher *PasswordHasher, tokens *TokenIssuer, mkt MarketData, origins []string) (*App, error) {
	dummy, err := hasher.Hash("cointrack-timing-equalizer")
	if err != nil {
		return nil, err
	}
	return &App{
		DB:             db,
		Hasher:         hasher,
		Tokens:         tokens,
		Market:         mkt,
		AllowedOrigins: origins,
		dummyHash:      dummy,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("write json")
	}
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := a.DB.(interface{ ping() bool }); ok && !p.ping() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// mount registers the API on r. It is called for the root and for /api/v1.
func (a *App) mount(r *mux.Router) {
	auth := a.RequireAuth

	// Accounts and tokens
	r.HandleFunc("/users/", a.HandleRegister).Methods("POST")
	r.HandleFunc("/users", a.HandleRegister).Methods("POST")
	r.HandleFunc("/token", a.HandleLogin).Methods("POST")
	r.HandleFunc("/token/introspect", a.HandleTokenIntrospect).Methods("POST")
	r.Handle("/users/me", auth(http.HandlerFunc(a.HandleMe))).Methods("GET")

	// Wallets
	r.Handle("/wallet/{uid}", auth(http.HandlerFunc(a.HandleListWallets))).Methods("GET")
	r.Handle("/wallet/", auth(http.HandlerFunc(a.HandleCreateWallet))).Methods("POST")
	r.Handle("/wallet", auth(http.HandlerFunc(a.HandleCreateWallet))).Methods("POST")
	r.Handle("/wallet/{uid}/{wname}", auth(http.HandlerFunc(a.HandleDeleteWallet))).Methods("DELETE")

	// Portfolio
	r.Handle("/portfolio/{uid}", auth(http.HandlerFunc(a.HandlePortfolio))).Methods("GET")
	r.Handle("/portfolio/", auth(http.HandlerFunc(a.HandleAddHolding))).Methods("POST")
	r.Handle("/portfolio", auth(http.HandlerFunc(a.HandleAddHolding))).Methods("POST")
	r.Handle("/portfolio/{uid}/{asset}", auth(http.HandlerFunc(a.HandleDeleteHolding))).Methods("DELETE")

	// Market data, public
	r.HandleFunc("/market/coins", a.HandleCoins).Methods("GET")
	r.HandleFunc("/market/coins/{id}", a.HandleCoin).Methods("GET")
	r.HandleFunc("/market/coins/{id}/chart", a.HandleChart).Methods("GET")
	r.HandleFunc("/market/price/{id}", a.HandlePrice).Methods("GET")
}

// routes builds the full handler. CORS and logging sit outside the router so
// preflight requests and unmatched paths pass through them too.
func (a *App) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(a.Metrics)

	r.HandleFunc("/health", a.handleHealth).Methods("GET")
	r.HandleFunc("/ready", a.handleReady).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	a.mount(r.PathPrefix("/api/v1").Subrouter())
	a.mount(r)

	return SecurityHeaders(a.Logging(a.CORS(r)))
}

func setupLogging(c *config.Config) {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithField("level", c.LogLevel).Warn("unknown LOG_LEVEL, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func openDB(ctx context.Context, c *config.Config) (DB, error) {
	switch c.DBAdapter {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(c.SQLiteFile), 0o755); err != nil {
			return nil, err
		}
		return NewSQLiteDB(ctx, c.SQLiteFile)
	case "postgres":
		log.Info("applying database migrations")
		if err := dbmigrate.Apply(c.MigrationsDir, c.PostgresDSN); err != nil {
			return nil, err
		}
		return NewPostgresDB(ctx, c.PostgresDSN)
	case "memory":
		log.Warn("using in-memory database; data is lost on restart")
		return NewMemoryDB(), nil
	default:
		return nil, errors.New("unsupported DB_ADAPTER: " + c.DBAdapter)
	}
}

func newMarketClient(ctx context.Context, c *config.Config) (*market.Client, func(), error) {
	opts := []market.Option{
		market.WithHTTPClient(&http.Client{Timeout: c.MarketTimeout}),
		market.WithRateLimit(c.MarketRatePerMinute),
	}
	done := func() {}
	if c.RedisURL != "" {
		rc, err := market.NewRedisCache(ctx, c.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, market.WithCache(rc, c.MarketCacheTTL))
		done = func() { _ = rc.Close() }
		log.Info("market cache: redis")
	} else {
		opts = append(opts, market.WithCache(market.NewMemoryCache(), c.MarketCacheTTL))
	}
	return market.NewClient(c.MarketBaseURL, opts...), done, nil
}

func main() {
	c, err := config.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	setupLogging(c)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, c)
	if err != nil {
		log.WithError(err).WithField("adapter", c.DBAdapter).Fatal("database init")
	}
	log.WithField("adapter", c.DBAdapter).Info("database ready")

	hasher, err := NewPasswordHasher(c.BcryptCost)
	if err != nil {
		log.WithError(err).Fatal("password hasher")
	}
	mkt, closeMarket, err := newMarketClient(ctx, c)
	if err != nil {
		log.WithError(err).Fatal("market client")
	}
	defer closeMarket()

	app, err := NewApp(db, hasher, NewTokenIssuer([]byte(c.JwtSecret), tokenIssuer, c.TokenTTL), mkt, c.CORSOrigins)
	if err != nil {
		log.WithError(err).Fatal("app init")
	}

	srv := &http.Server{
		Handler:      app.routes(),
		Addr:         ":" + c.Port,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: c.MarketTimeout + 10*time.Second,
	}

	go func() {
		log.WithField("port", c.Port).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown failed")
	}
	if closer, ok := app.DB.(interface{ close() error }); ok {
		_ = closer.close()
	}
	log.Info("server exited properly")
}
