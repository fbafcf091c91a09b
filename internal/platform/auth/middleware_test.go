package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testCfg = JWTConfig{SigningKey: []byte("test-secret-key-for-unit-tests-only"), Issuer: "labprice"}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen echo.Context
	err := mw(func(c echo.Context) error {
		seen = c
		return c.String(http.StatusOK, "ok")
	})(c)
	return seen, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runMiddleware(t, JWTMiddleware(testCfg), "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, JWTMiddleware(testCfg), tt.header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token, err := IssueToken(testCfg, "broker-7", []string{RoleBroker}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	c, err := runMiddleware(t, JWTMiddleware(testCfg), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := c.Request().Context()
	if got := UserIDFromContext(ctx); got != "broker-7" {
		t.Errorf("expected subject broker-7, got %q", got)
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleBroker {
		t.Errorf("unexpected roles: %v", roles)
	}
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	other := JWTConfig{SigningKey: []byte("another-secret-key-that-is-wrong!!"), Issuer: "labprice"}
	token, err := IssueToken(other, "u1", nil, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	_, err = runMiddleware(t, JWTMiddleware(testCfg), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Expired(t *testing.T) {
	token, err := IssueToken(testCfg, "u1", nil, -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	_, err = runMiddleware(t, JWTMiddleware(testCfg), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_MissingExpiry(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: "labprice"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testCfg.SigningKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, err = runMiddleware(t, JWTMiddleware(testCfg), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware_SetsDefaults(t *testing.T) {
	c, err := runMiddleware(t, DevAuthMiddleware(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := c.Request().Context()
	if UserIDFromContext(ctx) != "dev-user" {
		t.Errorf("expected dev-user, got %q", UserIDFromContext(ctx))
	}
	if !HasAnyRole(RolesFromContext(ctx), RoleBroker) {
		t.Error("dev user should pass role checks")
	}
}

func TestIssueToken_RequiresKey(t *testing.T) {
	if _, err := IssueToken(JWTConfig{}, "u1", nil, time.Hour); err == nil {
		t.Fatal("expected error without signing key")
	}
}
