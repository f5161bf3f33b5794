package session

import "errors"

var (
	// ErrInvalidCredentials is returned for any failed login, whatever the cause.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTokenInvalid is returned when a refresh token is unknown or belongs to a closed chain.
	ErrTokenInvalid = errors.New("invalid refresh token")

	// ErrTokenExpired is returned when an active refresh token is past its expiry.
	ErrTokenExpired = errors.New("refresh token expired")

	// ErrTokenReuseDetected is returned after a rotated refresh token was presented again.
	// By the time it is returned, the lineage has already been revoked.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")

	// ErrUnauthorized is returned when an access token fails verification.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPrincipalNotFound is returned by CredentialLookup implementations
	// when no account matches the email.
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrRecordNotFound is returned by stores when no record matches a hash.
	ErrRecordNotFound = errors.New("refresh record not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
