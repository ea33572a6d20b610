// Package session persists the current session record on top of a storage
// adapter and reads it back from a bare Cookie header on the server side.
package session

import (
	"time"

	"github.com/jrsteele09/go-auth-client/storage"
)

// Storage keys, before prefixing.
const (
	KeySession      = "session"
	KeyUser         = "user"
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyExpiresAt    = "expires_at"
)

var allKeys = []string{KeySession, KeyUser, KeyAccessToken, KeyRefreshToken, KeyExpiresAt}

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Store owns the single "current session" slot.
//
// Besides the composite record, the token triple is kept under its own keys
// so callers can read a token without decoding the whole record. Saves go
// through Adapter.SetMany: backends that batch (memory, file, sqlite, redis)
// commit all keys together, the cookie backend writes them one by one. In the
// latter case a reader running between two writes may see the composite and
// the denormalized keys disagree, and a failure part way leaves partial state.
// Nothing is rolled back; readers rely on the expiry and shape checks in Get.
// Writers do not lock: the last write wins.
type Store struct {
	storage *storage.Adapter
}

// NewStore creates a store on a.
func NewStore(a *storage.Adapter) *Store {
	return &Store{storage: a}
}

// Storage returns the adapter the store writes to.
func (s *Store) Storage() *storage.Adapter {
	return s.storage
}

// Save replaces the current record with (sess, user).
func (s *Store) Save(sess Session, user User) {
	s.storage.SetMany(map[string]any{
		KeySession:      sess,
		KeyUser:         user,
		KeyAccessToken:  sess.AccessToken,
		KeyRefreshToken: sess.RefreshToken,
		KeyExpiresAt:    sess.ExpiresAt,
	})
}

// Get returns the current record. A record with either half missing is
// absent; an expired one is deleted and reported absent.
func (s *Store) Get() (*Record, bool) {
	sess, _ := storage.Load[*Session](s.storage, KeySession)
	user, _ := storage.Load[*User](s.storage, KeyUser)
	if sess == nil || user == nil {
		return nil, false
	}
	if sess.IsExpired(NowTimeFunc()) {
		s.Clear()
		return nil, false
	}
	return &Record{Session: *sess, User: *user}, true
}

// Clear removes the record and its denormalized keys, leaving every other
// entry in the backend alone.
func (s *Store) Clear() {
	s.storage.RemoveMany(allKeys...)
}

// UpdateTokens swaps the token triple of the current session. It does nothing
// and reports false when there is no current record.
func (s *Store) UpdateTokens(accessToken, refreshToken string, expiresAt int64) (*Record, bool) {
	sess, _ := storage.Load[*Session](s.storage, KeySession)
	user, _ := storage.Load[*User](s.storage, KeyUser)
	if sess == nil || user == nil {
		return nil, false
	}

	updated := sess.WithTokens(accessToken, refreshToken, expiresAt)
	s.storage.SetMany(map[string]any{
		KeySession:      updated,
		KeyAccessToken:  accessToken,
		KeyRefreshToken: refreshToken,
		KeyExpiresAt:    expiresAt,
	})
	return &Record{Session: updated, User: *user}, true
}

// SetUser replaces the stored profile when a session is present.
func (s *Store) SetUser(user User) bool {
	if sess, _ := storage.Load[*Session](s.storage, KeySession); sess == nil {
		return false
	}
	s.storage.Set(KeyUser, user)
	return true
}

// AccessToken reads the denormalized access token.
func (s *Store) AccessToken() (string, bool) {
	return nonEmpty(storage.Load[string](s.storage, KeyAccessToken))
}

// RefreshToken reads the denormalized refresh token.
func (s *Store) RefreshToken() (string, bool) {
	return nonEmpty(storage.Load[string](s.storage, KeyRefreshToken))
}

// ExpiresAt reads the denormalized expiry in epoch milliseconds.
func (s *Store) ExpiresAt() (int64, bool) {
	return storage.Load[int64](s.storage, KeyExpiresAt)
}

// FromCookieHeader reads the record out of a request's Cookie header using
// the store's prefix. See FromCookieHeader.
func (s *Store) FromCookieHeader(raw string) (*Record, bool) {
	return FromCookieHeader(raw, s.storage.Prefix())
}

func nonEmpty(v string, ok bool) (string, bool) {
	return v, ok && v != ""
}
