package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/huddlehq/huddle/pkg/domain"
	"github.com/huddlehq/huddle/pkg/session"
)

// AuthAPI calls the authentication endpoints. It deliberately bypasses the
// session transport: these calls carry no bearer token and must never
// trigger a renewal themselves.
type AuthAPI struct {
	api
}

// NewAuthAPI creates an AuthAPI using transport (http.DefaultTransport when nil).
func NewAuthAPI(baseURL string, transport http.RoundTripper) *AuthAPI {
	return &AuthAPI{api: newAPI(baseURL, transport)}
}

var _ session.AuthAPI = (*AuthAPI)(nil)

// Login exchanges credentials for a user and token pair.
func (a *AuthAPI) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	var res domain.LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := a.post(ctx, "/api/auth/login", body, &res); err != nil {
		if IsStatus(err, http.StatusUnauthorized) || IsStatus(err, http.StatusBadRequest) {
			return nil, fmt.Errorf("client.Login: %w: %w", session.ErrInvalidCredentials, err)
		}
		return nil, fmt.Errorf("client.Login: %w", err)
	}
	return &res, nil
}

// Register creates an account and returns the server's message.
func (a *AuthAPI) Register(ctx context.Context, name, email, password string) (string, error) {
	var res struct {
		User    domain.User `json:"user"`
		Message string      `json:"message"`
	}
	body := map[string]string{"name": name, "email": email, "password": password}
	if err := a.post(ctx, "/api/auth/register", body, &res); err != nil {
		return "", fmt.Errorf("client.Register: %w", err)
	}
	return res.Message, nil
}

// Refresh exchanges a refresh token for a new access token. The response
// may or may not rotate the refresh token.
func (a *AuthAPI) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	var pair domain.TokenPair
	body := map[string]string{"refreshToken": refreshToken}
	if err := a.post(ctx, "/api/auth/refresh", body, &pair); err != nil {
		return domain.TokenPair{}, fmt.Errorf("client.Refresh: %w", err)
	}
	return pair, nil
}

// Logout revokes refreshToken on the server.
func (a *AuthAPI) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refreshToken": refreshToken}
	if err := a.post(ctx, "/api/auth/logout", body, nil); err != nil {
		return fmt.Errorf("client.Logout: %w", err)
	}
	return nil
}
