package main

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/samber/oops"
)

type PostgresDB struct {
	db  *sql.DB
	dsn string
}

func NewPostgresDB(ctx context.Context, dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{db: d, dsn: dsn}
	if err := p.Init(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init(ctx context.Context) error {
	// rely on migrations to create tables; just verify connectivity
	return p.db.PingContext(ctx)
}

func pgCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func (p *PostgresDB) CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error) {
	var u User
	err := p.db.QueryRowContext(ctx, `INSERT INTO users(username,email,password_hash,created_at) VALUES($1,$2,$3,now()) RETURNING id, created_at`, username, email, passwordHash).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if pgCode(err) == pgerrcode.UniqueViolation {
			return nil, userExists(username, email)
		}
		return nil, oops.Code("USER_CREATE_FAILED").Wrap(err)
	}
	u.Username, u.Email, u.PasswordHash = username, email, passwordHash
	return &u, nil
}

func (p *PostgresDB) scanUser(row *sql.Row, key string, v any) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, userNotFound(key, v)
		}
		return nil, oops.Code("USER_GET_FAILED").With(key, v).Wrap(err)
	}
	return &u, nil
}

func (p *PostgresDB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id,username,email,password_hash,created_at FROM users WHERE id = $1`, id)
	return p.scanUser(row, "id", id)
}

func (p *PostgresDB) FindUserByUsernameOrEmail(ctx context.Context, identifier string) (*User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id,username,email,password_hash,created_at FROM users WHERE username = $1 OR email = $2`, identifier, strings.ToLower(identifier))
	return p.scanUser(row, "identifier", identifier)
}

func (p *PostgresDB) ListWallets(ctx context.Context, uid int64) ([]*Wallet, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id,uid,wname,address,created_at FROM wallets WHERE uid = $1 ORDER BY id`, uid)
	if err != nil {
		return nil, oops.Code("WALLET_LIST_FAILED").With("uid", uid).Wrap(err)
	}
	defer rows.Close()
	wallets := []*Wallet{}
	for rows.Next() {
		var w Wallet
		if err := rows.Scan(&w.ID, &w.UserID, &w.Name, &w.Address, &w.CreatedAt); err != nil {
			return nil, oops.Code("WALLET_LIST_FAILED").With("uid", uid).Wrap(err)
		}
		wallets = append(wallets, &w)
	}
	return wallets, rows.Err()
}

func (p *PostgresDB) CreateWallet(ctx context.Context, uid int64, name, address string) (*Wallet, error) {
	w := Wallet{UserID: uid, Name: name, Address: address}
	err := p.db.QueryRowContext(ctx, `INSERT INTO wallets(uid,wname,address,created_at) VALUES($1,$2,$3,now()) RETURNING id, created_at`, uid, name, address).Scan(&w.ID, &w.CreatedAt)
	if err != nil {
		switch pgCode(err) {
		case pgerrcode.UniqueViolation:
			return nil, walletExists(uid, name)
		case pgerrcode.ForeignKeyViolation:
			return nil, userNotFound("id", uid)
		}
		return nil, oops.Code("WALLET_CREATE_FAILED").With("uid", uid).Wrap(err)
	}
	return &w, nil
}

func (p *PostgresDB) DeleteWallet(ctx context.Context, uid int64, name string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM wallets WHERE uid = $1 AND wname = $2`, uid, name)
	if err != nil {
		return oops.Code("WALLET_DELETE_FAILED").With("uid", uid).Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return walletNotFound(uid, name)
	}
	return nil
}

func (p *PostgresDB) ListHoldings(ctx context.Context, uid int64) ([]*Holding, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT uid,asset,units,updated_at FROM holdings WHERE uid = $1 ORDER BY asset`, uid)
	if err != nil {
		return nil, oops.Code("HOLDING_LIST_FAILED").With("uid", uid).Wrap(err)
	}
	defer rows.Close()
	holdings := []*Holding{}
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.UserID, &h.Asset, &h.Units, &h.UpdatedAt); err != nil {
			return nil, oops.Code("HOLDING_LIST_FAILED").With("uid", uid).Wrap(err)
		}
		holdings = append(holdings, &h)
	}
	return holdings, rows.Err()
}

func (p *PostgresDB) AddHolding(ctx context.Context, uid int64, asset string, units float64) (*Holding, error) {
	var h Holding
	err := p.db.QueryRowContext(ctx, `INSERT INTO holdings(uid,asset,units,updated_at) VALUES($1,$2,$3,now())
		ON CONFLICT (uid, asset) DO UPDATE SET units = holdings.units + EXCLUDED.units, updated_at = now()
		RETURNING uid, asset, units, updated_at`, uid, asset, units).Scan(&h.UserID, &h.Asset, &h.Units, &h.UpdatedAt)
	if err != nil {
		if pgCode(err) == pgerrcode.ForeignKeyViolation {
			return nil, userNotFound("id", uid)
		}
		return nil, oops.Code("HOLDING_ADD_FAILED").With("uid", uid).With("asset", asset).Wrap(err)
	}
	return &h, nil
}

func (p *PostgresDB) DeleteHolding(ctx context.Context, uid int64, asset string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM holdings WHERE uid = $1 AND asset = $2`, uid, asset)
	if err != nil {
		return oops.Code("HOLDING_DELETE_FAILED").With("uid", uid).Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return holdingNotFound(uid, asset)
	}
	return nil
}

func (p *PostgresDB) close() error { return p.db.Close() }
func (p *PostgresDB) ping() bool   { return p.db.Ping() == nil }
