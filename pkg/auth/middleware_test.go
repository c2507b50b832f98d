package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

type mockDatabase struct {
	blacklisted map[string]bool
	refresh     map[string]string
}

func newMockDatabase() *mockDatabase {
	return &mockDatabase{
		blacklisted: make(map[string]bool),
		refresh:     make(map[string]string),
	}
}

func (m *mockDatabase) StoreRefreshToken(ctx context.Context, token, userID string, expiresAt time.Time) error {
	m.refresh[token] = userID
	return nil
}

func (m *mockDatabase) ValidateRefreshToken(ctx context.Context, token string) (string, error) {
	userID, ok := m.refresh[token]
	if !ok {
		return "", ErrTokenNotFound
	}
	return userID, nil
}

func (m *mockDatabase) RevokeRefreshToken(ctx context.Context, token string) error {
	delete(m.refresh, token)
	return nil
}

func (m *mockDatabase) AddBlacklistedToken(ctx context.Context, token string, expiresAt int64) error {
	m.blacklisted[token] = true
	return nil
}

func (m *mockDatabase) IsTokenBlacklisted(ctx context.Context, token string) (bool, error) {
	return m.blacklisted[token], nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func protectedHandler(t *testing.T, gotSub *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotSub = Identity(r)
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	config := helperConfig()
	db := newMockDatabase()
	mw := NewMiddleware(config, db, quietLogger())

	tokens, err := generateTokens(jwt.MapClaims{"sub": "user-1"}, config)
	if err != nil {
		t.Fatalf("generateTokens: %v", err)
	}

	var gotSub string
	handler := mw.AuthMiddleware(protectedHandler(t, &gotSub))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotSub != "user-1" {
		t.Errorf("Identity = %q", gotSub)
	}
}

func TestAuthMiddlewareMissingToken(t *testing.T) {
	mw := NewMiddleware(helperConfig(), newMockDatabase(), quietLogger())

	var gotSub string
	handler := mw.AuthMiddleware(protectedHandler(t, &gotSub))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewareBlacklistedToken(t *testing.T) {
	config := helperConfig()
	db := newMockDatabase()
	mw := NewMiddleware(config, db, quietLogger())

	tokens, err := generateTokens(jwt.MapClaims{"sub": "user-1"}, config)
	if err != nil {
		t.Fatalf("generateTokens: %v", err)
	}
	db.AddBlacklistedToken(context.Background(), tokens.AccessToken, 0)

	var gotSub string
	handler := mw.AuthMiddleware(protectedHandler(t, &gotSub))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for revoked token", rec.Code)
	}
}

func TestAuthMiddlewareNoneMode(t *testing.T) {
	mw := NewMiddleware(&Config{AuthType: "none"}, newMockDatabase(), quietLogger())

	var gotSub string
	handler := mw.AuthMiddleware(protectedHandler(t, &gotSub))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotSub != "dev" {
		t.Errorf("Identity = %q, want dev", gotSub)
	}
}

func TestHandleRefreshRotatesToken(t *testing.T) {
	config := helperConfig()
	db := newMockDatabase()
	h := NewHandler(config, db, quietLogger())

	tokens, err := h.issueTokens(context.Background(), &UserInfo{Sub: "user-1"})
	if err != nil {
		t.Fatalf("issueTokens: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: tokens.RefreshToken})
	rec := httptest.NewRecorder()
	h.HandleRefresh(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := db.refresh[tokens.RefreshToken]; ok {
		t.Error("used refresh token must be revoked")
	}
	if len(db.refresh) != 1 {
		t.Errorf("refresh tokens stored = %d, want 1 fresh token", len(db.refresh))
	}
}

func TestHandleLogoutRevokesEverything(t *testing.T) {
	config := helperConfig()
	db := newMockDatabase()
	h := NewHandler(config, db, quietLogger())

	tokens, err := h.issueTokens(context.Background(), &UserInfo{Sub: "user-1"})
	if err != nil {
		t.Fatalf("issueTokens: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: tokens.RefreshToken})
	rec := httptest.NewRecorder()
	h.HandleLogout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !db.blacklisted[tokens.AccessToken] {
		t.Error("access token not blacklisted")
	}
	if _, ok := db.refresh[tokens.RefreshToken]; ok {
		t.Error("refresh token not revoked")
	}
}
