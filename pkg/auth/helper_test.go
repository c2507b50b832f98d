package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func helperConfig() *Config {
	return &Config{
		AuthType:               "oauth2",
		JwtSecret:              []byte("unit-test-secret"),
		AccessTokenExpiration:  15 * time.Minute,
		RefreshTokenExpiration: 24 * time.Hour,
		CookieSameSite:         http.SameSiteLaxMode,
	}
}

func TestGenerateAndParseTokens(t *testing.T) {
	config := helperConfig()
	claims := jwt.MapClaims{"sub": "user-1", "email": "u@example.com"}

	tokens, err := generateTokens(claims, config)
	if err != nil {
		t.Fatalf("generateTokens: %v", err)
	}
	if tokens.TokenType != "Bearer" || tokens.ExpiresIn <= 0 {
		t.Errorf("tokens = %+v", tokens)
	}

	parsed, err := parseJWT(tokens.AccessToken, config.JwtSecret)
	if err != nil {
		t.Fatalf("parseJWT access: %v", err)
	}
	if parsed["sub"] != "user-1" || parsed["type"] != "bearer" {
		t.Errorf("access claims = %v", parsed)
	}

	refresh, err := parseJWT(tokens.RefreshToken, config.JwtSecret)
	if err != nil {
		t.Fatalf("parseJWT refresh: %v", err)
	}
	if refresh["sub"] != "user-1" || refresh["type"] != "refresh" {
		t.Errorf("refresh claims = %v", refresh)
	}
	if _, ok := refresh["email"]; ok {
		t.Error("refresh token must not carry profile claims")
	}
}

func TestParseJWTRejectsWrongSecret(t *testing.T) {
	config := helperConfig()
	tokens, err := generateTokens(jwt.MapClaims{"sub": "user-1"}, config)
	if err != nil {
		t.Fatalf("generateTokens: %v", err)
	}
	_, err = parseJWT(tokens.AccessToken, []byte("other-secret"))
	if err == nil {
		t.Fatal("token accepted with the wrong secret")
	}
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error does not wrap ErrInvalidToken: %v", err)
	}
	if strings.Contains(err.Error(), "%!w") {
		t.Errorf("error formats a nil wrap: %v", err)
	}
}

func TestParseJWTRejectsExpired(t *testing.T) {
	config := helperConfig()
	config.AccessTokenExpiration = -time.Minute

	tokens, err := generateTokens(jwt.MapClaims{"sub": "user-1"}, config)
	if err != nil {
		t.Fatalf("generateTokens: %v", err)
	}
	_, err = parseJWT(tokens.AccessToken, config.JwtSecret)
	if err == nil {
		t.Fatal("expired token accepted")
	}
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error does not wrap ErrInvalidToken: %v", err)
	}
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	if got := extractToken(r, "access_token"); got != "header-token" {
		t.Errorf("bearer header token = %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie-token"})
	if got := extractToken(r, "access_token"); got != "cookie-token" {
		t.Errorf("cookie token = %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	r.AddCookie(&http.Cookie{Name: "refresh_token", Value: "refresh-cookie"})
	if got := extractToken(r, "refresh_token"); got != "refresh-cookie" {
		t.Errorf("refresh token must come from its cookie, got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	if got := extractToken(r, "access_token"); got != "" {
		t.Errorf("empty request token = %q", got)
	}
}

func TestSetAndClearAuthCookies(t *testing.T) {
	config := helperConfig()
	tokens := &TokenResponse{AccessToken: "a", RefreshToken: "r"}

	rec := httptest.NewRecorder()
	setAuthCookies(rec, tokens, config)
	cookies := rec.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("cookies set = %d", len(cookies))
	}
	var refreshPath string
	for _, c := range cookies {
		if !c.HttpOnly {
			t.Errorf("cookie %s not HttpOnly", c.Name)
		}
		if c.Name == "refresh_token" {
			refreshPath = c.Path
		}
	}
	if refreshPath != "/auth/refresh" {
		t.Errorf("refresh cookie path = %q", refreshPath)
	}

	rec = httptest.NewRecorder()
	clearAuthCookies(rec, config)
	for _, c := range rec.Result().Cookies() {
		if c.Value != "" || c.Expires.After(time.Now()) {
			t.Errorf("cookie %s not cleared", c.Name)
		}
	}
}

func TestGetTokenExpiration(t *testing.T) {
	config := helperConfig()
	tokens, err := generateTokens(jwt.MapClaims{"sub": "user-1"}, config)
	if err != nil {
		t.Fatalf("generateTokens: %v", err)
	}

	exp := getTokenExpiration(tokens.AccessToken)
	want := time.Now().Add(config.AccessTokenExpiration).Unix()
	if exp < want-5 || exp > want+5 {
		t.Errorf("exp = %d, want about %d", exp, want)
	}

	if got := getTokenExpiration("garbage"); got <= 0 {
		t.Errorf("garbage token exp = %d", got)
	}
}
