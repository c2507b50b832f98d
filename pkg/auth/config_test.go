package auth

import (
	"net/http"
	"testing"
	"time"
)

func TestNewConfigDefaultsToNone(t *testing.T) {
	config, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if config.AuthType != "none" {
		t.Errorf("AuthType = %q, want none", config.AuthType)
	}
}

func TestNewConfigOAuth2(t *testing.T) {
	t.Setenv("AUTH_TYPE", "oauth2")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ACCESS_TOKEN_EXPIRATION", "minutes=30")
	t.Setenv("REFRESH_TOKEN_EXPIRATION", "days=7")
	t.Setenv("OAUTH_CLIENT_ID", "client-id")
	t.Setenv("OAUTH_CLIENT_SECRET", "client-secret")
	t.Setenv("OAUTH_LOGIN_URL", "https://idp.example.com/authorize")
	t.Setenv("OAUTH_TOKEN_URL", "https://idp.example.com/token")
	t.Setenv("OAUTH_JWKS_URL", "https://idp.example.com/jwks")
	t.Setenv("COOKIE_SAMESITE", "strict")

	config, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}

	if string(config.JwtSecret) != "test-secret" {
		t.Errorf("JwtSecret = %q", config.JwtSecret)
	}
	if config.AccessTokenExpiration != 30*time.Minute {
		t.Errorf("AccessTokenExpiration = %v", config.AccessTokenExpiration)
	}
	if config.RefreshTokenExpiration != 7*24*time.Hour {
		t.Errorf("RefreshTokenExpiration = %v", config.RefreshTokenExpiration)
	}
	if config.CookieSameSite != http.SameSiteStrictMode {
		t.Errorf("CookieSameSite = %v", config.CookieSameSite)
	}
	if config.OAuth2Config.ClientID != "client-id" {
		t.Errorf("ClientID = %q", config.OAuth2Config.ClientID)
	}
	if config.OAuth2Config.Endpoint.AuthURL != "https://idp.example.com/authorize" {
		t.Errorf("AuthURL = %q", config.OAuth2Config.Endpoint.AuthURL)
	}
}

func TestNewConfigOAuth2MissingCredentials(t *testing.T) {
	t.Setenv("AUTH_TYPE", "oauth2")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("OAUTH_CLIENT_ID", "")
	t.Setenv("OAUTH_CLIENT_SECRET", "")

	if _, err := NewConfig(); err == nil {
		t.Error("expected error for missing client credentials")
	}
}

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"minutes=15", 15 * time.Minute, false},
		{"hours=2", 2 * time.Hour, false},
		{"days=1", 24 * time.Hour, false},
		{"seconds=45", 45 * time.Second, false},
		{"hours=1, minutes=30", 90 * time.Minute, false},
		{"fortnights=1", 0, true},
		{"minutes", 0, true},
		{"minutes=abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDurationString(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseDurationString(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseDurationString(%q): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDurationString(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseScopes(t *testing.T) {
	got := parseScopes("openid, profile ,email,")
	if len(got) != 3 || got[0] != "openid" || got[1] != "profile" || got[2] != "email" {
		t.Errorf("parseScopes = %v", got)
	}
}
