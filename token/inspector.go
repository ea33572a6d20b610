// Package token reads the claims of compact, three-part signed tokens.
//
// Nothing here verifies a signature. Claims are descriptive only: they are
// used to decide when a token is worth refreshing, never to trust a caller.
package token

import (
	"encoding/json"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/internal/errors"
)

// ExpiryBuffer is how long before its exp claim a token is already treated as
// expired.
const ExpiryBuffer = 60 * time.Second

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Claims is the decoded claim set of a token.
type Claims = jwtlib.MapClaims

var segmentParser = jwtlib.NewParser(jwtlib.WithPaddingAllowed())

// Decode returns the claim set carried in the middle segment of raw. Any shape
// other than three dot-separated segments with a JSON object in the middle
// yields ErrMalformedToken.
func Decode(raw string) (Claims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, errors.ErrMalformedToken
	}

	payload, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedToken, "payload segment: %v", err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil || claims == nil {
		return nil, errors.ErrMalformedToken
	}
	return claims, nil
}

// IsExpired reports whether raw should no longer be used: it cannot be
// decoded, has no exp claim, or is within ExpiryBuffer of its exp.
func IsExpired(raw string) bool {
	exp, ok := ExpirationTime(raw)
	if !ok {
		return true
	}
	return !NowTimeFunc().Before(exp.Add(-ExpiryBuffer))
}

// ExpirationTime returns the instant carried in the exp claim.
func ExpirationTime(raw string) (time.Time, bool) {
	claims, err := Decode(raw)
	if err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// IssuedAt returns the instant carried in the iat claim.
func IssuedAt(raw string) (time.Time, bool) {
	claims, err := Decode(raw)
	if err != nil {
		return time.Time{}, false
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return time.Time{}, false
	}
	return iat.Time, true
}

// Subject returns the sub claim, usually the user ID.
func Subject(raw string) (string, bool) {
	claims, err := Decode(raw)
	if err != nil {
		return "", false
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", false
	}
	return sub, true
}

// Claim returns the named claim when it is present and holds a T. JSON numbers
// decode as float64.
func Claim[T any](raw, name string) (T, bool) {
	var zero T
	claims, err := Decode(raw)
	if err != nil {
		return zero, false
	}
	v, ok := claims[name].(T)
	if !ok {
		return zero, false
	}
	return v, true
}
