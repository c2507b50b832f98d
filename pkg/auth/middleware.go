package auth

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Middleware provides authentication middleware for protected routes.
type Middleware struct {
	Config   *Config
	Database Database
	Logger   *logrus.Logger
}

// NewMiddleware creates a new authentication middleware instance.
func NewMiddleware(config *Config, db Database, logger *logrus.Logger) *Middleware {
	return &Middleware{
		Config:   config,
		Database: db,
		Logger:   logger,
	}
}

// AuthMiddleware validates the access token and injects the user's claims
// into the request context. When AuthType is "none" all requests pass
// through with a static development identity.
func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Config.AuthType == "none" {
			ctx := context.WithValue(r.Context(), "user", devClaims())
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		tokenString := extractToken(r, "access_token")
		if tokenString == "" {
			WriteErrorResponse(w, "Missing access token", http.StatusUnauthorized)
			return
		}

		blacklisted, err := m.Database.IsTokenBlacklisted(r.Context(), tokenString)
		if err != nil {
			m.Logger.WithError(err).Error("failed to check token blacklist")
			WriteErrorResponse(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if blacklisted {
			WriteErrorResponse(w, "Token has been revoked", http.StatusUnauthorized)
			return
		}

		claims, err := parseJWT(tokenString, m.Config.JwtSecret)
		if err != nil {
			m.Logger.WithError(err).Debug("token validation failed")
			WriteErrorResponse(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "user", claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
