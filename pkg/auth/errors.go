package auth

import "errors"

// Verification errors. The dispatcher maps these onto the structured
// error codes returned to callers.
var (
	// ErrTokenMissing is returned when no credential was supplied.
	ErrTokenMissing = errors.New("authentication token missing")

	// ErrTokenInvalid is returned when a credential was supplied but failed
	// signature, audience, lifetime, or claim validation.
	ErrTokenInvalid = errors.New("authentication token invalid")

	// ErrKeysUnavailable is returned when the verification keys could not
	// be retrieved. Verification fails closed; it never downgrades to
	// anonymous access.
	ErrKeysUnavailable = errors.New("verification keys unavailable")
)
