package auth

import "errors"

var (
	// ErrInvalidToken covers malformed, forged and expired JWTs. parseJWT
	// wraps the parser's error with it so callers can branch with errors.Is.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenNotFound is returned by Database implementations when a
	// refresh token is unknown or has been revoked.
	ErrTokenNotFound = errors.New("token not found")
)
