package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
	"github.com/lestrrat-go/jwx/jwk"
)

// decodeIDToken validates an OIDC id_token against the provider's JWKS
// and returns the user information carried in its claims.
func decodeIDToken(ctx context.Context, rawIDToken string, config *Config) (*UserInfo, error) {
	keySet, err := jwk.Fetch(ctx, config.JwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	token, err := jwt.Parse(rawIDToken, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("kid header not found in token")
		}

		key, found := keySet.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("unable to find key with kid: %s", kid)
		}

		var rawKey interface{}
		if err := key.Raw(&rawKey); err != nil {
			return nil, fmt.Errorf("failed to get raw key: %w", err)
		}
		return rawKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to validate id_token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: id_token rejected", ErrInvalidToken)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid id_token claims")
	}

	userInfo := &UserInfo{}
	if sub, ok := claims["sub"].(string); ok {
		userInfo.Sub = sub
	}
	if name, ok := claims["name"].(string); ok {
		userInfo.Name = name
	}
	if email, ok := claims["email"].(string); ok {
		userInfo.Email = email
	}
	if userInfo.Sub == "" {
		return nil, fmt.Errorf("id_token missing sub claim")
	}

	return userInfo, nil
}
