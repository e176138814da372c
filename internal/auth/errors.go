package auth

import "errors"

// Domain errors for the auth package.
var (
	// ErrTokenInvalid is returned when a token fails signature, expiry,
	// issuer or claim checks.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrInvalidScope is returned when a token names an unknown scope.
	ErrInvalidScope = errors.New("auth: invalid scope")

	// ErrMissingSecret is returned when signing with an empty secret.
	ErrMissingSecret = errors.New("auth: signing secret is required")
)
