package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/huddlehq/huddle/pkg/domain"
)

// AuthAPI is the unauthenticated side of the server: everything that must
// not go through the bearer transport.
type AuthAPI interface {
	Refresher
	Login(ctx context.Context, email, password string) (*domain.LoginResult, error)
	Register(ctx context.Context, name, email, password string) (string, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Authenticator drives login, registration and logout against the store.
type Authenticator struct {
	api    AuthAPI
	store  *Store
	gate   *Gate
	logger *zap.Logger
}

// NewAuthenticator returns an Authenticator. gate must renew through the
// same api.
func NewAuthenticator(api AuthAPI, store *Store, gate *Gate, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{api: api, store: store, gate: gate, logger: logger}
}

// Login exchanges credentials for a session. A rejected login returns an
// error wrapping ErrInvalidCredentials and leaves the store untouched.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*domain.User, error) {
	res, err := a.api.Login(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("session.Login: %w", err)
	}
	if res.AccessToken == "" {
		return nil, fmt.Errorf("session.Login: response carried no access token")
	}
	if err := a.store.SetAuthenticated(res.AccessToken, res.RefreshToken, res.User); err != nil {
		return nil, fmt.Errorf("session.Login: %w", err)
	}
	a.logger.Info("logged in", zap.String("user_id", res.User.ID))
	u := res.User
	return &u, nil
}

// Register creates an account. It does not log in.
func (a *Authenticator) Register(ctx context.Context, name, email, password string) (string, error) {
	msg, err := a.api.Register(ctx, name, email, password)
	if err != nil {
		return "", fmt.Errorf("session.Register: %w", err)
	}
	return msg, nil
}

// Logout tells the server to revoke the refresh token, then clears the
// session whatever the server said.
func (a *Authenticator) Logout(ctx context.Context) error {
	snap := a.store.Get()
	var remote error
	if snap.RefreshToken != "" {
		if err := a.api.Logout(ctx, snap.RefreshToken); err != nil {
			a.logger.Warn("server logout failed", zap.Error(err))
			remote = err
		}
	}
	changed, err := a.store.Clear()
	if err != nil {
		return fmt.Errorf("session.Logout: %w", err)
	}
	if changed {
		a.logger.Info("logged out", zap.Bool("server_ack", remote == nil))
	}
	return nil
}

// ForceRefresh renews now regardless of how much life the token has left.
func (a *Authenticator) ForceRefresh(ctx context.Context) error {
	if _, err := a.gate.Renew(ctx, ""); err != nil {
		return fmt.Errorf("session.ForceRefresh: %w", err)
	}
	return nil
}

// Restore loads the persisted session and, when the stored access token has
// expired, makes one renewal attempt with the stored refresh token.
func (a *Authenticator) Restore(ctx context.Context) (Session, error) {
	if err := a.store.Hydrate(); err != nil {
		return Session{}, err
	}
	snap := a.store.Get()
	if snap.AccessToken == "" && snap.RefreshToken == "" {
		return snap, nil
	}
	if snap.IsAuthenticated && !a.gate.Stale(snap.AccessToken) {
		return snap, nil
	}

	if _, err := a.gate.EnsureFresh(ctx); err != nil {
		if errors.Is(err, ErrSessionEnded) {
			a.logger.Info("stored session could not be restored", zap.Error(err))
			return a.store.Get(), nil
		}
		return a.store.Get(), fmt.Errorf("session.Restore: %w", err)
	}
	return a.store.Get(), nil
}
