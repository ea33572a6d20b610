package session

import "time"

// User is the profile of the signed-in user as returned by the identity
// backend. It is replaced wholesale, never patched.
type User struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	Name          string         `json:"name,omitempty"`
	Avatar        string         `json:"avatar,omitempty"`
	EmailVerified bool           `json:"emailVerified"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Session is the token-bearing descriptor of one authenticated session.
// AccessToken, RefreshToken and ExpiresAt change together on every refresh;
// everything else is fixed for the life of the session.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    int64     `json:"expiresAt"` // epoch milliseconds
	CreatedAt    time.Time `json:"createdAt"`
	Provider     string    `json:"provider"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
}

// Expiry returns ExpiresAt as a time.
func (s Session) Expiry() time.Time {
	return time.UnixMilli(s.ExpiresAt)
}

// IsExpired reports whether the session has reached its expiry at now.
func (s Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt <= now.UnixMilli()
}

// WithTokens returns a copy of s carrying a new token triple.
func (s Session) WithTokens(accessToken, refreshToken string, expiresAt int64) Session {
	s.AccessToken = accessToken
	s.RefreshToken = refreshToken
	s.ExpiresAt = expiresAt
	return s
}

// Record is the composite persisted as one logical unit: a session and its
// user, both present or neither.
type Record struct {
	Session Session `json:"session"`
	User    User    `json:"user"`
}
