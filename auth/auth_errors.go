package auth

import (
	"fmt"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/pkg/errors"
)

var (
	ErrMissingCode         = errors.New("authorization code missing from callback")
	ErrStateMismatch       = errors.New("oauth state mismatch")
	ErrInvalidRedirectURI  = errors.New("invalid redirect uri")
	ErrNoSession           = autherrors.ErrNoSession
	ErrSessionExpired      = autherrors.ErrSessionExpired
	ErrInvalidConfig       = autherrors.ErrInvalidConfig
	ErrMissingProviderName = errors.New("provider name required")
)

// ProviderError is a denial reported by the identity provider on the
// callback, e.g. the user declined consent.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("identity provider error %s: %s", e.Code, e.Description)
	}
	return "identity provider error " + e.Code
}
