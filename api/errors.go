package api

import (
	"fmt"
	"net/http"
)

// Error is the error body returned by the identity backend.
type Error struct {
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Status  int            `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// Unauthorized reports whether the backend rejected the credentials.
func (e *Error) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// errorFromResponse builds an Error from a non-2xx body, falling back to the
// status text when the body is not in the expected shape.
func errorFromResponse(status int, body []byte, decode func([]byte, any) error) *Error {
	apiErr := &Error{}
	if err := decode(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	if apiErr.Status == 0 {
		apiErr.Status = status
	}
	return apiErr
}
