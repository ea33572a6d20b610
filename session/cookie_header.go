package session

import (
	"encoding/json"

	"github.com/jrsteele09/go-auth-client/cookie"
)

// FromCookieHeader is the read-only variant of Store.Get for code that holds
// only a serialized Cookie header, typically a server rendering a page. It
// applies the same shape and expiry checks but never writes: an expired
// record is simply reported absent.
func FromCookieHeader(raw, prefix string) (*Record, bool) {
	var sess *Session
	if !decodeCookie(raw, prefix+KeySession, &sess) || sess == nil {
		return nil, false
	}
	var user *User
	if !decodeCookie(raw, prefix+KeyUser, &user) || user == nil {
		return nil, false
	}
	if sess.IsExpired(NowTimeFunc()) {
		return nil, false
	}
	return &Record{Session: *sess, User: *user}, true
}

func decodeCookie(raw, name string, out any) bool {
	value, ok := cookie.Lookup(raw, name)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(value), out) == nil
}
