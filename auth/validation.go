package auth

import (
	"net"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-auth-client/internal/errors"
)

// ValidateRedirectURI checks that uri is an absolute http(s) URL without a
// fragment. Production deployments additionally require https, except for
// loopback addresses used by native and command line clients.
func ValidateRedirectURI(uri string, production bool) error {
	u, err := url.Parse(uri)
	if err != nil {
		return errors.Wrapf(ErrInvalidRedirectURI, "%q", uri)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.Wrapf(ErrInvalidRedirectURI, "%q must be an absolute http(s) url", uri)
	}
	if u.Fragment != "" {
		return errors.Wrapf(ErrInvalidRedirectURI, "%q must not contain a fragment", uri)
	}
	if production && u.Scheme != "https" && !isLoopback(u.Hostname()) {
		return errors.Wrapf(ErrInvalidRedirectURI, "%q must use https", uri)
	}
	return nil
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
