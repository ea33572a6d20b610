package auth

import (
	"context"
	"time"

	"github.com/jrsteele09/go-auth-client/token"
	"golang.org/x/oauth2"
)

// TokenSource returns an oauth2.TokenSource backed by the stored session.
// Tokens within the expiry buffer are renewed through the refresh scheduler
// first, so oauth2.NewClient(ctx, c.TokenSource(ctx)) keeps working across
// expiries.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &sessionTokenSource{ctx: ctx, client: c})
}

type sessionTokenSource struct {
	ctx    context.Context
	client *Client
}

func (s *sessionTokenSource) Token() (*oauth2.Token, error) {
	expiresAt, ok := s.client.sessions.ExpiresAt()
	if !ok {
		return nil, ErrNoSession
	}
	if !token.NowTimeFunc().Before(time.UnixMilli(expiresAt).Add(-token.ExpiryBuffer)) {
		if !s.client.scheduler.RefreshToken(s.ctx) {
			return nil, ErrSessionExpired
		}
		if expiresAt, ok = s.client.sessions.ExpiresAt(); !ok {
			return nil, ErrNoSession
		}
	}

	accessToken, ok := s.client.sessions.AccessToken()
	if !ok {
		return nil, ErrNoSession
	}
	refreshToken, _ := s.client.sessions.RefreshToken()
	return &oauth2.Token{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		RefreshToken: refreshToken,
		Expiry:       time.UnixMilli(expiresAt),
	}, nil
}
