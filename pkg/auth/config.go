package auth

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Config holds the authentication configuration. One generic OIDC
// provider is supported; the provider validates identity, this service
// only verifies what it signed.
type Config struct {
	AuthType string // "none" or "oauth2"

	JwtSecret              []byte
	AccessTokenExpiration  time.Duration
	RefreshTokenExpiration time.Duration
	SecureCookie           bool
	CookieSameSite         http.SameSite

	OAuth2Config      *oauth2.Config
	UserInfoURL       string
	JwksURL           string
	PostLoginRedirect string
}

// NewConfig initializes the authentication configuration from environment
// variables.
func NewConfig() (*Config, error) {
	config := &Config{
		AuthType: getEnv("AUTH_TYPE", "none"),
	}
	if config.AuthType == "none" {
		return config, nil
	}

	jwtSecret, err := getEnvBytes("JWT_SECRET")
	if err != nil {
		return nil, fmt.Errorf("error loading JWT_SECRET: %w", err)
	}
	config.JwtSecret = jwtSecret

	config.AccessTokenExpiration, err = parseDurationString(getEnv("ACCESS_TOKEN_EXPIRATION", "minutes=15"))
	if err != nil {
		return nil, fmt.Errorf("error parsing ACCESS_TOKEN_EXPIRATION: %w", err)
	}

	config.RefreshTokenExpiration, err = parseDurationString(getEnv("REFRESH_TOKEN_EXPIRATION", "hours=24"))
	if err != nil {
		return nil, fmt.Errorf("error parsing REFRESH_TOKEN_EXPIRATION: %w", err)
	}

	config.SecureCookie, err = strconv.ParseBool(getEnv("SECURE_COOKIE", "false"))
	if err != nil {
		return nil, fmt.Errorf("error parsing SECURE_COOKIE: %w", err)
	}

	config.CookieSameSite, err = parseSameSite(getEnv("COOKIE_SAMESITE", "lax"))
	if err != nil {
		return nil, fmt.Errorf("error parsing COOKIE_SAMESITE: %w", err)
	}

	config.PostLoginRedirect = getEnv("REDIRECT_URL", "/")

	if config.AuthType == "oauth2" {
		config.OAuth2Config = &oauth2.Config{
			ClientID:     os.Getenv("OAUTH_CLIENT_ID"),
			ClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("OAUTH_REDIRECT_URL"),
			Scopes:       parseScopes(getEnv("OAUTH_SCOPES", "openid,profile,email")),
			Endpoint: oauth2.Endpoint{
				AuthURL:  os.Getenv("OAUTH_LOGIN_URL"),
				TokenURL: os.Getenv("OAUTH_TOKEN_URL"),
			},
		}
		config.UserInfoURL = os.Getenv("OAUTH_USERINFO_URL")
		config.JwksURL = os.Getenv("OAUTH_JWKS_URL")

		if config.OAuth2Config.ClientID == "" || config.OAuth2Config.ClientSecret == "" {
			return nil, fmt.Errorf("OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET are required for oauth2")
		}
		if config.JwksURL == "" {
			return nil, fmt.Errorf("OAUTH_JWKS_URL is required for oauth2")
		}
	}

	return config, nil
}

func parseScopes(s string) []string {
	var scopes []string
	for _, scope := range strings.Split(s, ",") {
		scope = strings.TrimSpace(scope)
		if scope != "" {
			scopes = append(scopes, scope)
		}
	}
	return scopes
}

// getEnv retrieves the value of the environment variable named by the key,
// falling back to defaultValue when it is not present.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvBytes retrieves the byte slice value of the environment variable
// named by the key.
func getEnvBytes(key string) ([]byte, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return nil, fmt.Errorf("environment variable %s not set", key)
	}
	return []byte(value), nil
}

// parseDurationString parses a duration string formatted as
// "minutes=1, hours=2, days=3, seconds=30".
func parseDurationString(s string) (time.Duration, error) {
	parts := strings.Split(s, ",")
	var totalDuration time.Duration

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		keyValue := strings.SplitN(part, "=", 2)
		if len(keyValue) != 2 {
			return 0, fmt.Errorf("invalid format for part: '%s'", part)
		}
		key := strings.ToLower(strings.TrimSpace(keyValue[0]))
		valueStr := strings.TrimSpace(keyValue[1])
		value, err := strconv.Atoi(valueStr)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: '%s'", key, valueStr)
		}

		switch key {
		case "minutes":
			totalDuration += time.Duration(value) * time.Minute
		case "hours":
			totalDuration += time.Duration(value) * time.Hour
		case "days":
			totalDuration += time.Duration(value) * 24 * time.Hour
		case "seconds":
			totalDuration += time.Duration(value) * time.Second
		default:
			return 0, fmt.Errorf("unknown time unit: '%s'", key)
		}
	}

	return totalDuration, nil
}

func parseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(s) {
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return http.SameSiteDefaultMode, fmt.Errorf("invalid SameSite value: '%s'", s)
	}
}
