package auth

import (
	"net/http"

	"github.com/jrsteele09/go-auth-client/config"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/storage"
)

// WriteSessionCookies hands a session to the browser: every stored key is
// emitted as a Set-Cookie header on w using cfg's prefix and cookie options.
func WriteSessionCookies(w http.ResponseWriter, record session.Record, cfg config.Config) {
	cookieStore(nil, w, cfg).Save(record.Session, record.User)
}

// ClearSessionCookies emits deletion directives for every session cookie the
// request carries.
func ClearSessionCookies(w http.ResponseWriter, r *http.Request, cfg config.Config) {
	cookieStore(r, w, cfg).Clear()
}

// SessionFromRequest reads the session a browser sent back in its cookies.
// It never writes: an expired session is reported absent and left for the
// browser to drop.
func SessionFromRequest(r *http.Request, cfg config.Config) (*session.Record, bool) {
	return session.FromCookieHeader(r.Header.Get("Cookie"), cfg.Storage.Prefix)
}

func cookieStore(r *http.Request, w http.ResponseWriter, cfg config.Config) *session.Store {
	backend := storage.NewCookieBackend(storage.NewRequestJar(r, w), cfg.Storage.CookieOptions, cfg.Production)
	return session.NewStore(storage.NewWithBackend(backend, cfg.Storage.Prefix))
}
