package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

type registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (reg *registration) normalize() error {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.ToLower(strings.TrimSpace(reg.Email))
	if !usernameRe.MatchString(reg.Username) {
		return errors.New("Username must be 3-32 characters of letters, digits, '.', '_' or '-'")
	}
	addr, err := mail.ParseAddress(reg.Email)
	if err != nil || addr.Address != reg.Email {
		return errors.New("Email address is not valid")
	}
	if reg.Password == "" {
		return errors.New("Password is required")
	}
	if len(reg.Password) > maxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

// HandleRegister creates an account. No token is issued; the client logs in separately.
func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var reg registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if err := reg.normalize(); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	hashed, err := a.Hasher.Hash(reg.Password)
	if err != nil {
		log.WithError(err).Error("register: hash password")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process password")
		return
	}
	user, err := a.DB.CreateUser(r.Context(), reg.Username, reg.Email, hashed)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			authEventsTotal.WithLabelValues("register", "duplicate").Inc()
		}
		writeStoreError(w, r, err, "User not found", "Username or email already registered")
		return
	}
	authEventsTotal.WithLabelValues("register", "ok").Inc()
	log.WithField("user_id", user.ID).Info("user registered")
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// HandleLogin exchanges form-encoded credentials for an access token. Unknown
// identifiers and wrong passwords produce the same response and cost the same
// bcrypt comparison.
func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid form body")
		return
	}
	identifier := strings.TrimSpace(r.PostFormValue("username"))
	if identifier == "" {
		identifier = strings.TrimSpace(r.PostFormValue("identifier"))
	}
	password := r.PostFormValue("password")
	if identifier == "" || password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Username and password are required")
		return
	}

	user, err := a.DB.FindUserByUsernameOrEmail(r.Context(), identifier)
	if err != nil && !errors.Is(err, ErrNotFound) {
		writeStoreError(w, r, err, "", "")
		return
	}
	digest := a.dummyHash
	if user != nil {
		digest = user.PasswordHash
	}
	if !a.Hasher.Verify(password, digest) || user == nil {
		authEventsTotal.WithLabelValues("login", "rejected").Inc()
		log.WithField("remote", r.RemoteAddr).Warn("login rejected")
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Incorrect username or password")
		return
	}

	tok, err := a.Tokens.Issue(user)
	if err != nil {
		log.WithError(err).Error("login: issue token")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token")
		return
	}
	authEventsTotal.WithLabelValues("login", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": tok.Value,
		"token_type":   "bearer",
		"expires_in":   int64(a.Tokens.TTL().Seconds()),
	})
}

// HandleTokenIntrospect reports whether a token would pass the gate right now.
// POST /token/introspect
func (a *App) HandleTokenIntrospect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Token is required")
		return
	}

	claims, err := a.Tokens.Parse(req.Token)
	var id *Identity
	if err == nil {
		id, err = a.resolve(r.Context(), claims)
	}
	if err != nil {
		if !errors.Is(err, ErrUnauthorized) {
			writeStoreError(w, r, err, "", "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":   true,
		"user_id":  id.UserID,
		"username": id.Username,
		"exp":      claims.ExpiresAt.Unix(),
	})
}

// HandleMe returns the caller's profile.
func (a *App) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Bearer token required")
		return
	}
	u, err := a.DB.GetUserByID(r.Context(), id.UserID)
	if err != nil {
		writeStoreError(w, r, err, "User not found", "")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}
