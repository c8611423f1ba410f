package device

import "errors"

var (
	// ErrMalformedIdentity is returned when a device id lacks a base id or group uid.
	ErrMalformedIdentity = errors.New("device: malformed identity")

	// ErrSecretMismatch is returned when a known device group presents the wrong secret.
	ErrSecretMismatch = errors.New("device: secret mismatch")

	// ErrDeviceNotFound is returned when a device primary key does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrMissingCredentials is returned when a handshake has no id or no secret.
	ErrMissingCredentials = errors.New("device: missing credentials")
)
