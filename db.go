package main

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB interface for database operations
type DB interface {
	Init(ctx context.Context) error
	// User operations
	CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	FindUserByUsernameOrEmail(ctx context.Context, identifier string) (*User, error)
	// Wallet operations
	ListWallets(ctx context.Context, uid int64) ([]*Wallet, error)
	CreateWallet(ctx context.Context, uid int64, name, address string) (*Wallet, error)
	DeleteWallet(ctx context.Context, uid int64, name string) error
	// Portfolio operations
	ListHoldings(ctx context.Context, uid int64) ([]*Holding, error)
	AddHolding(ctx context.Context, uid int64, asset string, units float64) (*Holding, error)
	DeleteHolding(ctx context.Context, uid int64, asset string) error
}

func userNotFound(key string, v any) error {
	return oops.Code("USER_NOT_FOUND").With(key, v).Wrap(ErrNotFound)
}

func userExists(username, email string) error {
	return oops.Code("USER_EXISTS").With("username", username).With("email", email).Wrap(ErrDuplicate)
}

func walletNotFound(uid int64, name string) error {
	return oops.Code("WALLET_NOT_FOUND").With("uid", uid).With("wname", name).Wrap(ErrNotFound)
}

func walletExists(uid int64, name string) error {
	return oops.Code("WALLET_EXISTS").With("uid", uid).With("wname", name).Wrap(ErrDuplicate)
}

func holdingNotFound(uid int64, asset string) error {
	return oops.Code("HOLDING_NOT_FOUND").With("uid", uid).With("asset", asset).Wrap(ErrNotFound)
}

// Memory DB
type MemDB struct {
	mu       sync.RWMutex
	users    map[int64]*User
	byName   map[string]int64
	byEmail  map[string]int64
	wallets  map[int64][]*Wallet
	holdings map[int64]map[string]*Holding
	seq      int64
	wseq     int64
}

func NewMemoryDB() *MemDB {
	return &MemDB{
		users:    map[int64]*User{},
		byName:   map[string]int64{},
		byEmail:  map[string]int64{},
		wallets:  map[int64][]*Wallet{},
		holdings: map[int64]map[string]*Holding{},
		seq:      1,
		wseq:     1,
	}
}

func (m *MemDB) Init(ctx context.Context) error { return nil }

func (m *MemDB) CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[username]; ok {
		return nil, userExists(username, email)
	}
	if _, ok := m.byEmail[email]; ok {
		return nil, userExists(username, email)
	}
	u := &User{ID: m.seq, Username: username, Email: email, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	m.seq++
	m.users[u.ID] = u
	m.byName[username] = u.ID
	m.byEmail[email] = u.ID
	cp := *u
	return &cp, nil
}

func (m *MemDB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, userNotFound("id", id)
	}
	cp := *u
	return &cp, nil
}

func (m *MemDB) FindUserByUsernameOrEmail(ctx context.Context, identifier string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[identifier]
	if !ok {
		id, ok = m.byEmail[strings.ToLower(identifier)]
	}
	if !ok {
		return nil, userNotFound("identifier", identifier)
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *MemDB) ListWallets(ctx context.Context, uid int64) ([]*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Wallet, 0, len(m.wallets[uid]))
	for _, w := range m.wallets[uid] {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemDB) CreateWallet(ctx context.Context, uid int64, name, address string) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[uid]; !ok {
		return nil, userNotFound("id", uid)
	}
	for _, w := range m.wallets[uid] {
		if w.Name == name {
			return nil, walletExists(uid, name)
		}
	}
	w := &Wallet{ID: m.wseq, UserID: uid, Name: name, Address: address, CreatedAt: time.Now().UTC()}
	m.wseq++
	m.wallets[uid] = append(m.wallets[uid], w)
	cp := *w
	return &cp, nil
}

func (m *MemDB) DeleteWallet(ctx context.Context, uid int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.wallets[uid]
	for i, w := range ws {
		if w.Name == name {
			m.wallets[uid] = append(ws[:i:i], ws[i+1:]...)
			return nil
		}
	}
	return walletNotFound(uid, name)
}

func (m *MemDB) ListHoldings(ctx context.Context, uid int64) ([]*Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Holding, 0, len(m.holdings[uid]))
	for _, h := range m.holdings[uid] {
		cp := *h
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (m *MemDB) AddHolding(ctx context.Context, uid int64, asset string, units float64) (*Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[uid]; !ok {
		return nil, userNotFound("id", uid)
	}
	hs, ok := m.holdings[uid]
	if !ok {
		hs = map[string]*Holding{}
		m.holdings[uid] = hs
	}
	h, ok := hs[asset]
	if !ok {
		h = &Holding{UserID: uid, Asset: asset}
		hs[asset] = h
	}
	h.Units += units
	h.UpdatedAt = time.Now().UTC()
	cp := *h
	return &cp, nil
}

func (m *MemDB) DeleteHolding(ctx context.Context, uid int64, asset string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holdings[uid][asset]; !ok {
		return holdingNotFound(uid, asset)
	}
	delete(m.holdings[uid], asset)
	return nil
}

// SQLite DB
type SQLiteDB struct {
	db   *sql.DB
	path string
}

// sqliteDSN applies foreign_keys to every connection the pool opens.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)"
}

func NewSQLiteDB(ctx context.Context, path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, err
	}
	// one connection serializes writers
	d.SetMaxOpenConns(1)
	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY AUTOINCREMENT, username TEXT NOT NULL UNIQUE, email TEXT NOT NULL UNIQUE, password_hash TEXT NOT NULL, created_at TEXT NOT NULL);`,
		`CREATE TABLE IF NOT EXISTS wallets (id INTEGER PRIMARY KEY AUTOINCREMENT, uid INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE, wname TEXT NOT NULL, address TEXT NOT NULL, created_at TEXT NOT NULL, UNIQUE(uid, wname));`,
		`CREATE TABLE IF NOT EXISTS holdings (uid INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE, asset TEXT NOT NULL, units REAL NOT NULL, updated_at TEXT NOT NULL, PRIMARY KEY(uid, asset));`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func isSQLiteConstraint(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

func isSQLiteForeignKey(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

func (s *SQLiteDB) CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO users(username,email,password_hash,created_at) VALUES(?,?,?,?)`, username, email, passwordHash, now.Format(time.RFC3339))
	if err != nil {
		if isSQLiteConstraint(err) {
			return nil, userExists(username, email)
		}
		return nil, oops.Code("USER_CREATE_FAILED").Wrap(err)
	}
	id, _ := res.LastInsertId()
	return &User{ID: id, Username: username, Email: email, PasswordHash: passwordHash, CreatedAt: now}, nil
}

func (s *SQLiteDB) scanUser(row *sql.Row, key string, v any) (*User, error) {
	var u User
	var created string
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, userNotFound(key, v)
		}
		return nil, oops.Code("USER_GET_FAILED").With(key, v).Wrap(err)
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &u, nil
}

func (s *SQLiteDB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,username,email,password_hash,created_at FROM users WHERE id = ?`, id)
	return s.scanUser(row, "id", id)
}

func (s *SQLiteDB) FindUserByUsernameOrEmail(ctx context.Context, identifier string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,username,email,password_hash,created_at FROM users WHERE username = ? OR email = ?`, identifier, strings.ToLower(identifier))
	return s.scanUser(row, "identifier", identifier)
}

func (s *SQLiteDB) ListWallets(ctx context.Context, uid int64) ([]*Wallet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,uid,wname,address,created_at FROM wallets WHERE uid = ? ORDER BY id`, uid)
	if err != nil {
		return nil, oops.Code("WALLET_LIST_FAILED").With("uid", uid).Wrap(err)
	}
	defer rows.Close()
	wallets := []*Wallet{}
	for rows.Next() {
		var w Wallet
		var created string
		if err := rows.Scan(&w.ID, &w.UserID, &w.Name, &w.Address, &created); err != nil {
			return nil, oops.Code("WALLET_LIST_FAILED").With("uid", uid).Wrap(err)
		}
		w.CreatedAt, _ = time.Parse(time.RFC3339, created)
		wallets = append(wallets, &w)
	}
	return wallets, rows.Err()
}

func (s *SQLiteDB) CreateWallet(ctx context.Context, uid int64, name, address string) (*Wallet, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO wallets(uid,wname,address,created_at) VALUES(?,?,?,?)`, uid, name, address, now.Format(time.RFC3339))
	if err != nil {
		if isSQLiteForeignKey(err) {
			return nil, userNotFound("id", uid)
		}
		if isSQLiteConstraint(err) {
			return nil, walletExists(uid, name)
		}
		return nil, oops.Code("WALLET_CREATE_FAILED").With("uid", uid).Wrap(err)
	}
	id, _ := res.LastInsertId()
	return &Wallet{ID: id, UserID: uid, Name: name, Address: address, CreatedAt: now}, nil
}

func (s *SQLiteDB) DeleteWallet(ctx context.Context, uid int64, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM wallets WHERE uid = ? AND wname = ?`, uid, name)
	if err != nil {
		return oops.Code("WALLET_DELETE_FAILED").With("uid", uid).Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return walletNotFound(uid, name)
	}
	return nil
}

func (s *SQLiteDB) ListHoldings(ctx context.Context, uid int64) ([]*Holding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uid,asset,units,updated_at FROM holdings WHERE uid = ? ORDER BY asset`, uid)
	if err != nil {
		return nil, oops.Code("HOLDING_LIST_FAILED").With("uid", uid).Wrap(err)
	}
	defer rows.Close()
	holdings := []*Holding{}
	for rows.Next() {
		var h Holding
		var updated string
		if err := rows.Scan(&h.UserID, &h.Asset, &h.Units, &updated); err != nil {
			return nil, oops.Code("HOLDING_LIST_FAILED").With("uid", uid).Wrap(err)
		}
		h.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		holdings = append(holdings, &h)
	}
	return holdings, rows.Err()
}

func (s *SQLiteDB) AddHolding(ctx context.Context, uid int64, asset string, units float64) (*Holding, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `INSERT INTO holdings(uid,asset,units,updated_at) VALUES(?,?,?,?)
		ON CONFLICT(uid, asset) DO UPDATE SET units = units + excluded.units, updated_at = excluded.updated_at`, uid, asset, units, now)
	if err != nil {
		if isSQLiteConstraint(err) {
			return nil, userNotFound("id", uid)
		}
		return nil, oops.Code("HOLDING_ADD_FAILED").With("uid", uid).With("asset", asset).Wrap(err)
	}
	var h Holding
	var updated string
	err = s.db.QueryRowContext(ctx, `SELECT uid,asset,units,updated_at FROM holdings WHERE uid = ? AND asset = ?`, uid, asset).
		Scan(&h.UserID, &h.Asset, &h.Units, &updated)
	if err != nil {
		return nil, oops.Code("HOLDING_ADD_FAILED").With("uid", uid).With("asset", asset).Wrap(err)
	}
	h.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &h, nil
}

func (s *SQLiteDB) DeleteHolding(ctx context.Context, uid int64, asset string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM holdings WHERE uid = ? AND asset = ?`, uid, asset)
	if err != nil {
		return oops.Code("HOLDING_DELETE_FAILED").With("uid", uid).Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return holdingNotFound(uid, asset)
	}
	return nil
}

// lifecycle helpers
func (m *MemDB) close() error { return nil }
func (m *MemDB) ping() bool   { return true }

func (s *SQLiteDB) close() error { return s.db.Close() }
func (s *SQLiteDB) ping() bool   { return s.db.Ping() == nil }
