package shared

import "errors"

var (
	// ErrNotFound indicates a missing case, action, student or catalog reference.
	ErrNotFound = errors.New("resource not found")
	// ErrValidation indicates malformed or catalog-ineligible input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a business-rule conflict, such as appending after a
	// completed action or touching a soft-deleted one.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized indicates a missing or invalid actor identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnavailable indicates persistent storage kept failing after retries.
	ErrUnavailable = errors.New("service temporarily unavailable")
)
