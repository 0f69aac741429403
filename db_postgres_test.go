package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*PostgresDB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return &PostgresDB{db: db}, mock
}

func TestPostgresCreateUser(t *testing.T) {
	p, mock := newMockPostgres(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("alice", "alice@example.com", "hash").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), now))

	u, err := p.CreateUser(context.Background(), "alice", "alice@example.com", "hash")
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, now, u.CreatedAt)
}

func TestPostgresCreateUserDuplicate(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: pgerrcode.UniqueViolation, Constraint: "users_email_key"})

	_, err := p.CreateUser(context.Background(), "alice", "alice@example.com", "hash")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestPostgresCreateUserOtherFailure(t *testing.T) {
	p, mock := newMockPostgres(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery(`INSERT INTO users`).WillReturnError(boom)

	_, err := p.CreateUser(context.Background(), "alice", "alice@example.com", "hash")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrDuplicate)
}

func TestPostgresGetUserNotFound(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectQuery(`SELECT id,username,email,password_hash,created_at FROM users WHERE id`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "created_at"}))

	_, err := p.GetUserByID(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresFindUserLowercasesEmail(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectQuery(`WHERE username = \$1 OR email = \$2`).
		WithArgs("Alice@Example.com", "alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "created_at"}).
			AddRow(int64(1), "alice", "alice@example.com", "hash", time.Now()))

	u, err := p.FindUserByUsernameOrEmail(context.Background(), "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)
}

func TestPostgresCreateWalletConstraints(t *testing.T) {
	tests := []struct {
		name string
		code string
		want error
	}{
		{"duplicate name", pgerrcode.UniqueViolation, ErrDuplicate},
		{"missing user", pgerrcode.ForeignKeyViolation, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mock := newMockPostgres(t)
			mock.ExpectQuery(`INSERT INTO wallets`).
				WithArgs(int64(1), "main", "0xabc").
				WillReturnError(&pq.Error{Code: pq.ErrorCode(tt.code)})

			_, err := p.CreateWallet(context.Background(), 1, "main", "0xabc")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPostgresDeleteWalletNotFound(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectExec(`DELETE FROM wallets`).
		WithArgs(int64(1), "main").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, p.DeleteWallet(context.Background(), 1, "main"), ErrNotFound)
}

func TestPostgresAddHoldingUpserts(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectQuery(`ON CONFLICT \(uid, asset\) DO UPDATE`).
		WithArgs(int64(1), "bitcoin", 0.5).
		WillReturnRows(sqlmock.NewRows([]string{"uid", "asset", "units", "updated_at"}).
			AddRow(int64(1), "bitcoin", 2.0, time.Now()))

	h, err := p.AddHolding(context.Background(), 1, "bitcoin", 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, h.Units, 1e-9)
}

func TestPostgresDeleteHolding(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectExec(`DELETE FROM holdings`).
		WithArgs(int64(1), "bitcoin").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, p.DeleteHolding(context.Background(), 1, "bitcoin"))
}
