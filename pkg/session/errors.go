package session

import "errors"

var (
	// ErrSessionEnded means the login is over and the user must authenticate
	// again. It is the only error the UI needs to redirect on.
	ErrSessionEnded = errors.New("session ended")

	// ErrNoRefreshToken means renewal was needed but no refresh token is held.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrInvalidCredentials is returned by Login for rejected email/password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	errStaleSession = errors.New("session replaced during renewal")
)
