package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

// Handler manages the authentication endpoints.
type Handler struct {
	Config     *Config
	Database   Database
	Logger     *logrus.Logger
	Middleware *Middleware

	// OnLogin is called after a successful OAuth2 callback with the
	// provider's user information, before tokens are issued. It is the
	// hook applications use to provision accounts.
	OnLogin func(ctx context.Context, user UserInfo) error
}

// NewHandler creates a new authentication handler.
func NewHandler(config *Config, db Database, logger *logrus.Logger) *Handler {
	return &Handler{
		Config:     config,
		Database:   db,
		Logger:     logger,
		Middleware: NewMiddleware(config, db, logger),
	}
}

// devClaims returns the static identity used when authentication is
// disabled.
func devClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "dev",
		"name":  "Developer",
		"email": "dev@localhost",
	}
}

// HandleLogin redirects the user to the OAuth2 provider's login page.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.Config.AuthType != "oauth2" {
		WriteErrorResponse(w, "Authentication is disabled", http.StatusNotFound)
		return
	}

	state := generateStateString()
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		Secure:   h.Config.SecureCookie,
		Path:     "/",
		SameSite: h.Config.CookieSameSite,
	})

	url := h.Config.OAuth2Config.AuthCodeURL(state)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// HandleCallback processes the OAuth2 callback, exchanges the code,
// validates the id_token and issues this service's own tokens.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if h.Config.AuthType != "oauth2" {
		WriteErrorResponse(w, "Authentication is disabled", http.StatusNotFound)
		return
	}

	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || r.URL.Query().Get("state") != stateCookie.Value {
		WriteErrorResponse(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		WriteErrorResponse(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	oauthToken, err := h.Config.OAuth2Config.Exchange(r.Context(), code)
	if err != nil {
		h.Logger.WithError(err).Error("failed to exchange authorization code")
		WriteErrorResponse(w, "Failed to exchange authorization code", http.StatusInternalServerError)
		return
	}

	userInfo, err := h.resolveUserInfo(r.Context(), oauthToken.Extra("id_token"))
	if err != nil {
		h.Logger.WithError(err).Error("failed to resolve user information")
		WriteErrorResponse(w, "Failed to validate identity", http.StatusInternalServerError)
		return
	}

	if h.OnLogin != nil {
		if err := h.OnLogin(r.Context(), *userInfo); err != nil {
			h.Logger.WithError(err).Error("login hook failed")
			WriteErrorResponse(w, "Failed to provision account", http.StatusInternalServerError)
			return
		}
	}

	tokens, err := h.issueTokens(r.Context(), userInfo)
	if err != nil {
		h.Logger.WithError(err).Error("failed to issue tokens")
		WriteErrorResponse(w, "Failed to issue tokens", http.StatusInternalServerError)
		return
	}

	setAuthCookies(w, tokens, h.Config)
	http.Redirect(w, r, h.Config.PostLoginRedirect, http.StatusTemporaryRedirect)
}

// resolveUserInfo extracts the user identity from the provider's id_token,
// falling back to the userinfo endpoint when no id_token was returned.
func (h *Handler) resolveUserInfo(ctx context.Context, rawIDToken interface{}) (*UserInfo, error) {
	if idToken, ok := rawIDToken.(string); ok && idToken != "" {
		return decodeIDToken(ctx, idToken, h.Config)
	}
	if h.Config.UserInfoURL == "" {
		return nil, fmt.Errorf("no id_token in token response and no userinfo endpoint configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.Config.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
	}

	var userInfo UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	if userInfo.Sub == "" {
		return nil, fmt.Errorf("userinfo response missing sub")
	}
	return &userInfo, nil
}

// issueTokens generates the token pair and stores the refresh token.
func (h *Handler) issueTokens(ctx context.Context, userInfo *UserInfo) (*TokenResponse, error) {
	claims := jwt.MapClaims{
		"sub":   userInfo.Sub,
		"name":  userInfo.Name,
		"email": userInfo.Email,
	}

	tokens, err := generateTokens(claims, h.Config)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(h.Config.RefreshTokenExpiration)
	if err := h.Database.StoreRefreshToken(ctx, tokens.RefreshToken, userInfo.Sub, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return tokens, nil
}

// HandleRefresh exchanges a valid refresh token for a fresh token pair.
// The used refresh token is revoked so each one is single-use.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := extractToken(r, "refresh_token")
	if refreshToken == "" {
		WriteErrorResponse(w, "Missing refresh token", http.StatusUnauthorized)
		return
	}

	userID, err := h.Database.ValidateRefreshToken(r.Context(), refreshToken)
	if err != nil {
		WriteErrorResponse(w, "Invalid or expired refresh token", http.StatusUnauthorized)
		return
	}

	claims, err := parseJWT(refreshToken, h.Config.JwtSecret)
	if err != nil || claims["type"] != "refresh" {
		WriteErrorResponse(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	if err := h.Database.RevokeRefreshToken(r.Context(), refreshToken); err != nil {
		h.Logger.WithError(err).Error("failed to revoke used refresh token")
	}

	tokens, err := h.issueTokens(r.Context(), &UserInfo{Sub: userID})
	if err != nil {
		h.Logger.WithError(err).Error("failed to issue tokens")
		WriteErrorResponse(w, "Failed to issue tokens", http.StatusInternalServerError)
		return
	}

	setAuthCookies(w, tokens, h.Config)
	WriteSuccessResponse(w, "Token refreshed", tokens)
}

// HandleLogout revokes the refresh token, blacklists the access token and
// clears the auth cookies.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if accessToken := extractToken(r, "access_token"); accessToken != "" {
		exp := getTokenExpiration(accessToken)
		if err := h.Database.AddBlacklistedToken(r.Context(), accessToken, exp); err != nil {
			h.Logger.WithError(err).Error("failed to blacklist access token")
		}
	}

	if refreshToken := extractToken(r, "refresh_token"); refreshToken != "" {
		if err := h.Database.RevokeRefreshToken(r.Context(), refreshToken); err != nil {
			h.Logger.WithError(err).Error("failed to revoke refresh token")
		}
	}

	clearAuthCookies(w, h.Config)
	WriteSuccessResponse(w, "Logged out", nil)
}

// HandleStatus reports whether the request carries a valid access token.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Config.AuthType == "none" {
		claims := devClaims()
		WriteSuccessResponse(w, "", StatusResponse{
			Authenticated: true,
			User: UserInfo{
				Sub:   claims["sub"].(string),
				Name:  claims["name"].(string),
				Email: claims["email"].(string),
			},
		})
		return
	}

	tokenString := extractToken(r, "access_token")
	if tokenString == "" {
		WriteSuccessResponse(w, "", StatusResponse{Authenticated: false, Message: "no token"})
		return
	}

	claims, err := parseJWT(tokenString, h.Config.JwtSecret)
	if err != nil {
		WriteSuccessResponse(w, "", StatusResponse{Authenticated: false, Message: "invalid token"})
		return
	}

	user := UserInfo{}
	if sub, ok := claims["sub"].(string); ok {
		user.Sub = sub
	}
	if name, ok := claims["name"].(string); ok {
		user.Name = name
	}
	if email, ok := claims["email"].(string); ok {
		user.Email = email
	}
	WriteSuccessResponse(w, "", StatusResponse{Authenticated: true, User: user})
}

// RegisterRoutes attaches the auth endpoints to a router.
func (h *Handler) RegisterRoutes(register func(path string, handler http.HandlerFunc)) {
	register("/auth/login", h.HandleLogin)
	register("/auth/callback", h.HandleCallback)
	register("/auth/refresh", h.HandleRefresh)
	register("/auth/logout", h.HandleLogout)
	register("/auth/status", h.HandleStatus)
}
