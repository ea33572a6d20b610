package auth

import "net/url"

// CallbackParams are the query parameters the identity backend appends to the
// redirect URI once the user has been through the provider.
type CallbackParams struct {
	// Code is the authorization code to exchange.
	// Example: /callback?code=ABC123&state=xyz
	Code string

	// State must match the value issued by Login.
	State string

	// Error is set instead of Code when the provider denied the request.
	// Example: /callback?error=access_denied&error_description=User+cancelled
	Error            string
	ErrorDescription string

	// RedirectURI is the URI the code was issued for. The backend checks it
	// against the one sent to the authorize endpoint.
	RedirectURI string
}

// ParseCallback reads CallbackParams from a callback URL's query.
func ParseCallback(query url.Values, redirectURI string) CallbackParams {
	return CallbackParams{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
		RedirectURI:      redirectURI,
	}
}
