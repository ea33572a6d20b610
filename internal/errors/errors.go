package errors

import (
	"errors"
	"fmt"
)

// Common error types for the auth client
var (
	// Token errors
	ErrMalformedToken = errors.New("malformed token")

	// Storage errors
	ErrQuotaExceeded   = errors.New("storage quota exceeded")
	ErrCorruptValue    = errors.New("corrupt stored value")
	ErrSealedStore     = errors.New("sealed store could not be opened")
	ErrUnknownBackend  = errors.New("unknown storage backend")
	ErrUnsupportedKind = errors.New("unsupported storage driver")

	// Session errors
	ErrNoSession      = errors.New("no session")
	ErrSessionExpired = errors.New("session expired")
	ErrNoRefreshToken = errors.New("no refresh token")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
