package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "custodia",
	}, nil)
}

func serve(a *Authenticator, token string, scopes ...string) int {
	handler := a.Middleware(scopes...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/markets", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestAuthenticatorAcceptsScopedToken(t *testing.T) {
	auth := newTestAuthenticator()
	token := signToken(t, jwt.MapClaims{
		"iss":   "custodia",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "ledger.admin ledger.read",
	})
	if code := serve(auth, token, "ledger.admin"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestAuthenticatorRejectsMissingToken(t *testing.T) {
	if code := serve(newTestAuthenticator(), "", "ledger.admin"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestAuthenticatorRejectsWrongIssuer(t *testing.T) {
	auth := newTestAuthenticator()
	token := signToken(t, jwt.MapClaims{
		"iss":   "somebody-else",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "ledger.admin",
	})
	if code := serve(auth, token, "ledger.admin"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestAuthenticatorRejectsInsufficientScope(t *testing.T) {
	auth := newTestAuthenticator()
	token := signToken(t, jwt.MapClaims{
		"iss":   "custodia",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "ledger.read",
	})
	if code := serve(auth, token, "ledger.admin"); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestAuthenticatorRejectsExpiredToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "custodia",
		ClockSkew:  time.Second,
	}, nil)
	token := signToken(t, jwt.MapClaims{
		"iss":   "custodia",
		"exp":   time.Now().Add(-time.Hour).Unix(),
		"scope": "ledger.admin",
	})
	if code := serve(auth, token, "ledger.admin"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: false}, nil)
	if code := serve(auth, "", "ledger.admin"); code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", code)
	}
}

func TestExtractBearer(t *testing.T) {
	if got := extractBearer("Bearer abc"); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := extractBearer("bearer abc"); got != "abc" {
		t.Fatalf("case-insensitive scheme, got %q", got)
	}
	if got := extractBearer("Basic abc"); got != "" {
		t.Fatalf("expected empty for wrong scheme, got %q", got)
	}
	if got := extractBearer(""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
