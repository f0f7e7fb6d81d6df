package uptime_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/amartya2002/uptime-client/uptime"
)

type memoryStore struct {
	token   string
	saves   int
	failing bool
}

func (m *memoryStore) LoadToken() (string, error) { return m.token, nil }

func (m *memoryStore) SaveToken(token string) error {
	if m.failing {
		return errors.New("disk full")
	}
	m.saves++
	m.token = token
	return nil
}

func (m *memoryStore) ClearToken() error {
	m.token = ""
	return nil
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestAuthContextReadsClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	a, _ := uptime.NewAuthContext(nil)
	if err := a.Set(signedToken(t, jwt.MapClaims{"sub": "ops@example.com", "exp": exp.Unix()})); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok := a.Expiry()
	if !ok || !got.Equal(exp) {
		t.Fatalf("expected expiry %v, got %v (ok=%v)", exp, got, ok)
	}
	if a.Subject() != "ops@example.com" {
		t.Fatalf("unexpected subject %q", a.Subject())
	}
	if a.Expired(time.Now()) {
		t.Fatalf("token should not be expired yet")
	}
	if !a.Expired(exp.Add(time.Second)) {
		t.Fatalf("token should be expired after exp")
	}
}

func TestAuthContextOpaqueTokenNeverExpires(t *testing.T) {
	a, _ := uptime.NewAuthContext(nil)
	_ = a.Set("opaque-token")
	if _, ok := a.Expiry(); ok {
		t.Fatalf("opaque token has no expiry")
	}
	if a.Expired(time.Now().Add(100 * 24 * time.Hour)) {
		t.Fatalf("opaque token must not expire")
	}
	if a.Subject() != "" {
		t.Fatalf("opaque token has no subject")
	}
}

func TestAuthContextPersistsThroughStore(t *testing.T) {
	store := &memoryStore{token: "from-disk"}
	a, err := uptime.NewAuthContext(store)
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	if a.Get() != "from-disk" {
		t.Fatalf("expected token loaded from store, got %q", a.Get())
	}

	_ = a.Set("fresh")
	if store.token != "fresh" || store.saves != 1 {
		t.Fatalf("expected token saved, store=%+v", store)
	}

	store.failing = true
	if err := a.Set("newer"); err == nil {
		t.Fatalf("expected persist error")
	}
	if a.Get() != "newer" {
		t.Fatalf("in-memory token must update even when persisting fails")
	}

	_ = a.Clear()
	if a.Get() != "" || store.token != "" {
		t.Fatalf("expected cleared token")
	}
}
