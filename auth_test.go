package main

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestHasher(t *testing.T) *PasswordHasher {
	t.Helper()
	h, err := NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func TestNewPasswordHasherRejectsBadCost(t *testing.T) {
	_, err := NewPasswordHasher(bcrypt.MinCost - 1)
	assert.Error(t, err)
	_, err = NewPasswordHasher(bcrypt.MaxCost + 1)
	assert.Error(t, err)
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t)

	d1, err := h.Hash("s3cret!")
	require.NoError(t, err)
	d2, err := h.Hash("s3cret!")
	require.NoError(t, err)

	assert.NotEqual(t, "s3cret!", d1)
	assert.NotEqual(t, d1, d2, "digests must be salted")
	assert.True(t, h.Verify("s3cret!", d1))
	assert.True(t, h.Verify("s3cret!", d2))
	assert.False(t, h.Verify("s3cret?", d1))
	assert.False(t, h.Verify("s3cret!", "not-a-bcrypt-digest"))
	assert.False(t, h.Verify("s3cret!", ""))
}

func TestHashRejectsEmptyAndOverlong(t *testing.T) {
	h := newTestHasher(t)

	_, err := h.Hash("")
	assert.ErrorIs(t, err, ErrEmptyPassword)

	_, err = h.Hash(strings.Repeat("a", maxPasswordBytes+1))
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	_, err = h.Hash(strings.Repeat("a", maxPasswordBytes))
	assert.NoError(t, err)
}

func TestVerifyRejectsSuffixBeyondBcryptLimit(t *testing.T) {
	h := newTestHasher(t)
	p := strings.Repeat("a", maxPasswordBytes)
	digest, err := h.Hash(p)
	require.NoError(t, err)

	assert.True(t, h.Verify(p, digest))
	assert.False(t, h.Verify(p+"suffix", digest))
	assert.False(t, h.Verify(p+"a", digest))
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestIssueAndParse(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), "cointrack", 30*time.Minute)
	u := &User{ID: 42, Username: "alice"}

	tok, err := issuer.Issue(u)
	require.NoError(t, err)
	assert.Equal(t, int64(42), tok.UserID)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), tok.ExpiresAt, 2*time.Second)

	claims, err := issuer.Parse(tok.Value)
	require.NoError(t, err)
	uid, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)
	assert.Equal(t, "cointrack", claims.Issuer)
	assert.NotEmpty(t, claims.ID)

	again, err := issuer.Issue(u)
	require.NoError(t, err)
	assert.NotEqual(t, tok.Value, again.Value)
}

func TestParseExpired(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewTokenIssuer([]byte("test-secret"), "cointrack", time.Minute)
	issuer.now = fixedClock(start)

	tok, err := issuer.Issue(&User{ID: 1})
	require.NoError(t, err)

	issuer.now = fixedClock(start.Add(59 * time.Second))
	_, err = issuer.Parse(tok.Value)
	require.NoError(t, err)

	issuer.now = fixedClock(start.Add(time.Minute + time.Second))
	_, err = issuer.Parse(tok.Value)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestParseRejectsTampering(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), "cointrack", time.Minute)
	tok, err := issuer.Issue(&User{ID: 1})
	require.NoError(t, err)

	other := NewTokenIssuer([]byte("other-secret"), "cointrack", time.Minute)
	foreignIssuer := NewTokenIssuer([]byte("test-secret"), "someone-else", time.Minute)
	foreign, err := foreignIssuer.Issue(&User{ID: 1})
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "1",
		Issuer:    "cointrack",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "1",
		Issuer:  "cointrack",
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "cointrack",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		value string
		p     *TokenIssuer
	}{
		{"empty", "", issuer},
		{"garbage", "not.a.token", issuer},
		{"truncated", tok.Value[:len(tok.Value)-4], issuer},
		{"wrong secret", tok.Value, other},
		{"wrong issuer", foreign.Value, issuer},
		{"alg none", none, issuer},
		{"no expiry", noExp, issuer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.p.Parse(tt.value)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	t.Run("non-numeric subject", func(t *testing.T) {
		claims, err := issuer.Parse(badSubject)
		require.NoError(t, err)
		_, err = claims.UserID()
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
