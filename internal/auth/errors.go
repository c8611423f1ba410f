package auth

import "errors"

var (
	// ErrTokenInvalid is returned for a malformed, expired or badly signed token.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrTokenMissing is returned when a request carries no bearer token.
	ErrTokenMissing = errors.New("auth: missing token")

	// ErrInvalidHash is returned when a stored secret hash cannot be decoded.
	ErrInvalidHash = errors.New("auth: invalid hash")
)
