package uptime

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenStore persists the bearer credential across restarts.
type TokenStore interface {
	LoadToken() (string, error)
	SaveToken(token string) error
	ClearToken() error
}

// AuthContext is the process-wide holder of the bearer credential. The
// gateway reads it on every request; only login, register and logout write it.
type AuthContext struct {
	mu    sync.RWMutex
	token string
	store TokenStore
}

// NewAuthContext returns an AuthContext seeded from store. store may be nil.
func NewAuthContext(store TokenStore) (*AuthContext, error) {
	a := &AuthContext{store: store}
	if store == nil {
		return a, nil
	}
	token, err := store.LoadToken()
	if err != nil {
		return a, err
	}
	a.token = token
	return a, nil
}

func (a *AuthContext) Get() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// Set replaces the credential and persists it when a store is attached. The
// in-memory value is updated even if persisting fails.
func (a *AuthContext) Set(token string) error {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
	if a.store == nil {
		return nil
	}
	return a.store.SaveToken(token)
}

func (a *AuthContext) Clear() error {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
	if a.store == nil {
		return nil
	}
	return a.store.ClearToken()
}

// Expiry reads the exp claim without verifying the signature. The signing
// key belongs to the remote service; this is only a hint for re-login.
func (a *AuthContext) Expiry() (time.Time, bool) {
	token := a.Get()
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Expired reports whether the held token carries an exp claim before now.
// Opaque tokens never expire from the client's point of view.
func (a *AuthContext) Expired(now time.Time) bool {
	exp, ok := a.Expiry()
	return ok && !now.Before(exp)
}

// Subject returns the sub claim (the account email), if any.
func (a *AuthContext) Subject() string {
	token := a.Get()
	if token == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

