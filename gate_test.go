package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"  Bearer   abc  ", "abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, ok := bearerToken(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequireAuthStoresIdentity(t *testing.T) {
	env := newTestEnv(t)
	uid := env.register(t, "alice", "alice@example.com", "pw")
	token := env.login(t, "alice", "pw")

	var seen *Identity
	h := env.app.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		require.True(t, ok)
		seen = id
	}))

	logged := &responseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	outer := &responseWriter{ResponseWriter: logged, statusCode: http.StatusOK}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(outer, req)

	require.NotNil(t, seen)
	assert.Equal(t, uid, seen.UserID)
	assert.Equal(t, "alice", seen.Username)
	// every wrapper in the chain learns who the caller is
	assert.Same(t, seen, logged.identity)
	assert.Same(t, seen, outer.identity)
}

func TestRequireOwner(t *testing.T) {
	app := &App{}
	id := &Identity{UserID: 1, Username: "alice"}
	req := httptest.NewRequest(http.MethodGet, "/wallet/1", nil).
		WithContext(context.WithValue(context.Background(), identityKey, id))

	rec := httptest.NewRecorder()
	got, ok := app.requireOwner(rec, req, 1)
	assert.True(t, ok)
	assert.Same(t, id, got)

	rec = httptest.NewRecorder()
	_, ok = app.requireOwner(rec, req, 2)
	assert.False(t, ok)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	_, ok = app.requireOwner(rec, httptest.NewRequest(http.MethodGet, "/wallet/1", nil), 1)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
