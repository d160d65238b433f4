package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"nhblease/config"
)

func testAuthenticator() *Authenticator {
	return NewAuthenticator(config.Auth{
		Enabled:    true,
		HMACSecret: "test-secret",
		Issuer:     "leased",
		Audience:   "operators",
	}, nil)
}

func serveWithToken(a *Authenticator, token string, scopes ...string) int {
	handler := a.Middleware(scopes...)(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/prices", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res.Code
}

func TestAuthenticatorAcceptsScopedToken(t *testing.T) {
	a := testAuthenticator()
	token, err := a.Issue("feeder", time.Hour, ScopeOracle)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if code := serveWithToken(a, token, ScopeOracle); code != http.StatusOK {
		t.Fatalf("expected scoped token to pass, got %d", code)
	}
	if code := serveWithToken(a, token, ScopeKeeper); code != http.StatusForbidden {
		t.Fatalf("expected missing scope to be forbidden, got %d", code)
	}
}

func TestAuthenticatorAdminScopeCoversAll(t *testing.T) {
	a := testAuthenticator()
	token, err := a.Issue("ops", time.Hour, ScopeAdmin)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if code := serveWithToken(a, token, ScopeKeeper, ScopeOracle); code != http.StatusOK {
		t.Fatalf("expected admin token to pass, got %d", code)
	}
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	a := testAuthenticator()
	if code := serveWithToken(a, ""); code != http.StatusUnauthorized {
		t.Fatalf("expected missing token to be rejected, got %d", code)
	}

	expired, err := a.Issue("feeder", -time.Hour, ScopeOracle)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if code := serveWithToken(a, expired, ScopeOracle); code != http.StatusUnauthorized {
		t.Fatalf("expected expired token to be rejected, got %d", code)
	}

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   "someone-else",
		"aud":   "operators",
		"scope": ScopeOracle,
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if code := serveWithToken(a, foreign, ScopeOracle); code != http.StatusUnauthorized {
		t.Fatalf("expected issuer mismatch to be rejected, got %d", code)
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "leased",
		"aud": "operators",
	}).SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if code := serveWithToken(a, forged); code != http.StatusUnauthorized {
		t.Fatalf("expected forged token to be rejected, got %d", code)
	}
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	a := NewAuthenticator(config.Auth{}, nil)
	if code := serveWithToken(a, "", ScopeAdmin); code != http.StatusOK {
		t.Fatalf("expected disabled auth to pass, got %d", code)
	}
}
