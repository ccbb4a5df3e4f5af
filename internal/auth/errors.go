package auth

import "errors"

// Sentinel errors for authentication.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrKeyNotConfigured   = errors.New("auth: no api key configured")
	ErrInvalidHash        = errors.New("auth: invalid api key hash")
	ErrTokenInvalid       = errors.New("auth: invalid token")
	ErrSecretRequired     = errors.New("auth: signing secret required")
	ErrInvalidRole        = errors.New("auth: invalid role")
	ErrForbidden          = errors.New("auth: insufficient permissions")
)
