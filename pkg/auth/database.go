package auth

import (
	"context"
	"time"
)

// Database defines the storage operations needed by the auth package.
type Database interface {
	StoreRefreshToken(ctx context.Context, token, userID string, expiresAt time.Time) error
	ValidateRefreshToken(ctx context.Context, token string) (userID string, err error)
	RevokeRefreshToken(ctx context.Context, token string) error
	AddBlacklistedToken(ctx context.Context, token string, expiresAt int64) error
	IsTokenBlacklisted(ctx context.Context, token string) (bool, error)
}
