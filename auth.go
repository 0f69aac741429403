package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// maxPasswordBytes is the bcrypt input limit; longer inputs would be truncated.
const maxPasswordBytes = 72

var (
	ErrEmptyPassword   = errors.New("password cannot be empty")
	ErrPasswordTooLong = fmt.Errorf("password exceeds %d bytes", maxPasswordBytes)

	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrUnauthorized)
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthorized)
)

// PasswordHasher hashes and verifies passwords with bcrypt at a fixed cost.
type PasswordHasher struct {
	cost int
}

func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d outside [%d,%d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &PasswordHasher{cost: cost}, nil
}

// Hash returns a salted digest. The salt and cost are embedded in the result.
func (h *PasswordHasher) Hash(p string) (string, error) {
	if p == "" {
		return "", ErrEmptyPassword
	}
	if len(p) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	b, err := bcrypt.GenerateFromPassword([]byte(p), h.cost)
	if err != nil {
		return "", oops.Code("PASSWORD_HASH_FAILED").Wrap(err)
	}
	return string(b), nil
}

// Verify reports whether p matches digest. A malformed digest never matches.
// bcrypt only reads the first 72 bytes, so longer inputs are rejected; the
// compare still runs so the rejection costs the same as a mismatch.
func (h *PasswordHasher) Verify(p, digest string) bool {
	fits := len(p) <= maxPasswordBytes
	match := bcrypt.CompareHashAndPassword([]byte(digest), []byte(p)) == nil
	return fits && match
}

// Claims are the JWT claims carried by an access token. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// UserID decodes the subject claim.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// Token is an issued bearer credential.
type Token struct {
	Value     string
	UserID    int64
	ExpiresAt time.Time
}

// TokenIssuer signs and validates short-lived HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue binds a fresh token to the user. Each token gets a random jti so two
// tokens for the same user in the same second never share a string.
func (t *TokenIssuer) Issue(u *User) (Token, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   strconv.FormatInt(u.ID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return Token{}, oops.Code("TOKEN_SIGN_FAILED").With("user_id", u.ID).Wrap(err)
	}
	return Token{Value: s, UserID: u.ID, ExpiresAt: exp}, nil
}

// Parse validates signature, algorithm, issuer and expiry.
func (t *TokenIssuer) Parse(value string) (*Claims, error) {
	if value == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	tok, err := p.ParseWithClaims(value, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TTL is the lifetime of issued tokens.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }
