package main

import (
	"context"
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

type ctxKey int

const identityKey ctxKey = iota

// IdentityFrom returns the identity resolved by RequireAuth, if any.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// authorize resolves a raw bearer token to the identity of an existing user.
// Every failure wraps ErrUnauthorized.
func (a *App) authorize(ctx context.Context, token string) (*Identity, error) {
	claims, err := a.Tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	return a.resolve(ctx, claims)
}

// resolve maps validated claims to a user that still exists.
func (a *App) resolve(ctx context.Context, claims *Claims) (*Identity, error) {
	uid, err := claims.UserID()
	if err != nil {
		return nil, err
	}
	u, err := a.DB.GetUserByID(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return &Identity{UserID: u.ID, Username: u.Username, Email: u.Email}, nil
}

// RequireAuth rejects requests without a valid bearer token and stores the
// resolved identity in the request context.
func (a *App) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			authEventsTotal.WithLabelValues("authorize", "missing").Inc()
			w.Header().Set("WWW-Authenticate", `Bearer`)
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Bearer token required")
			return
		}

		id, err := a.authorize(r.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrUnauthorized) {
				log.WithError(err).Error("authorize: store failure")
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
				return
			}
			msg, outcome := "Invalid token", "invalid"
			if errors.Is(err, ErrTokenExpired) {
				msg, outcome = "Token has expired", "expired"
			}
			authEventsTotal.WithLabelValues("authorize", outcome).Inc()
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", msg)
			return
		}

		authEventsTotal.WithLabelValues("authorize", "ok").Inc()
		noteIdentity(w, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

// requireOwner is the ownership guard every per-user handler calls before
// touching a scoped resource. It writes the rejection itself and reports
// whether the handler may continue.
func (a *App) requireOwner(w http.ResponseWriter, r *http.Request, uid int64) (*Identity, bool) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Bearer token required")
		return nil, false
	}
	if id.UserID != uid {
		authEventsTotal.WithLabelValues("ownership", "denied").Inc()
		log.WithFields(log.Fields{"user_id": id.UserID, "target_uid": uid, "path": r.URL.Path}).Warn("cross-user access denied")
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Access to another user's resources is not allowed")
		return nil, false
	}
	return id, true
}

// noteIdentity lets the logging middleware report who made the request.
func noteIdentity(w http.ResponseWriter, id *Identity) {
	for rw, ok := w.(*responseWriter); ok; rw, ok = rw.ResponseWriter.(*responseWriter) {
		rw.identity = id
	}
}
