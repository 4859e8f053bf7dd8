package runtime

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/poodle/config"
)

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, req *http.Request) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	ctx := e.NewContext(req, httptest.NewRecorder())
	err := mw(func(c echo.Context) error { return nil })(ctx)
	return ctx, err
}

func TestEchoAuthMiddlewareAcceptsHeaderAndCookie(t *testing.T) {
	secret := []byte("secret")
	tok, err := SignJWT("chan-bot", secret, time.Minute, ScopeWatchesRead)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	ctx, err := runMiddleware(t, EchoAuthMiddleware(secret), req)
	if err != nil {
		t.Fatalf("header token rejected: %v", err)
	}
	if ctx.Get("user_id") != "chan-bot" {
		t.Fatalf("user_id = %v", ctx.Get("user_id"))
	}
	if scopes, _ := ctx.Get("scopes").([]string); len(scopes) != 1 || scopes[0] != ScopeWatchesRead {
		t.Fatalf("scopes = %v", ctx.Get("scopes"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "auth", Value: tok})
	if _, err := runMiddleware(t, EchoAuthMiddleware(secret), req); err != nil {
		t.Fatalf("cookie token rejected: %v", err)
	}
}

func TestEchoAuthMiddlewareRejects(t *testing.T) {
	secret := []byte("secret")
	expired, _ := SignJWT("x", secret, -time.Minute)
	otherKey, _ := SignJWT("x", []byte("other"), time.Minute)
	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Minute).Unix()}).SignedString(secret)
	wrongAlg, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "x", "exp": time.Now().Add(time.Minute).Unix()}).SignedString(secret)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"expired", expired},
		{"other key", otherKey},
		{"no subject", noSub},
		{"wrong algorithm", wrongAlg},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			_, err := runMiddleware(t, EchoAuthMiddleware(secret), req)
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %v", err)
			}
		})
	}
}

func TestRequireScopes(t *testing.T) {
	e := echo.New()
	ctx := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	ctx.Set("scopes", []string{ScopeWatchesRead})

	ok := RequireScopes(ScopeWatchesRead)(func(c echo.Context) error { return nil })
	if err := ok(ctx); err != nil {
		t.Fatalf("read scope rejected: %v", err)
	}
	denied := RequireScopes(ScopeWatchesWrite)(func(c echo.Context) error { return nil })
	var he *echo.HTTPError
	if err := denied(ctx); !errors.As(err, &he) || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestNormaliseScopes(t *testing.T) {
	got := normaliseScopes("watches:read  watches:write")
	if len(got) != 2 || got[1] != ScopeWatchesWrite {
		t.Fatalf("space separated scopes = %v", got)
	}
	got = normaliseScopes([]interface{}{" watches:read ", 3, ""})
	if len(got) != 1 || got[0] != ScopeWatchesRead {
		t.Fatalf("array scopes = %v", got)
	}
	if got := normaliseScopes(42); len(got) != 0 {
		t.Fatalf("unexpected scopes %v", got)
	}
}

func TestLoadJWTSecret(t *testing.T) {
	if _, err := LoadJWTSecret(&config.Config{}); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	cfg := &config.Config{Server: config.ServerConfig{JWTSecret: " s3cret "}}
	got, err := LoadJWTSecret(cfg)
	if err != nil || string(got) != "s3cret" {
		t.Fatalf("LoadJWTSecret = %q, %v", got, err)
	}
	if _, err := SignJWT("x", nil, time.Minute); err == nil {
		t.Fatalf("expected error signing with empty secret")
	}
}
