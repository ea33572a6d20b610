// Package api is a typed client for the identity backend's HTTP surface:
// authorization redirect, code exchange, token refresh, session revocation
// and the current user profile.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/session"
	"github.com/pkg/errors"
)

// Endpoint paths, relative to the base URL.
const (
	AuthorizePath = "/api/v1/oauth/authorize"
	CallbackPath  = "/api/v1/oauth/callback"
	RefreshPath   = "/api/v1/sessions/refresh"
	SessionsPath  = "/api/v1/sessions/"
	UserPath      = "/api/v1/users/me"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseSize = 1 << 20
)

// Tokens is a renewed token triple. ExpiresAt is in epoch milliseconds and is
// zero when the backend leaves it to the access token's exp claim.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"`
}

type exchangeRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Client talks to one backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for every call.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header sent on every call.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AuthorizeURL returns the address the user agent is sent to in order to
// start the provider consent flow.
func (c *Client) AuthorizeURL(provider, redirectURI, state string) string {
	q := url.Values{}
	q.Set("provider", provider)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	return c.baseURL + AuthorizePath + "?" + q.Encode()
}

// ExchangeCode trades an authorization code for a session and its user.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*session.Record, error) {
	var record session.Record
	err := c.do(ctx, http.MethodPost, CallbackPath, "", exchangeRequest{Code: code, RedirectURI: redirectURI}, &record)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.ExchangeCode]")
	}
	if record.Session.AccessToken == "" {
		return nil, errors.New("[Client.ExchangeCode] response carried no access token")
	}
	return &record, nil
}

// Refresh renews the token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	var tokens Tokens
	if err := c.do(ctx, http.MethodPost, RefreshPath, "", refreshRequest{RefreshToken: refreshToken}, &tokens); err != nil {
		return nil, errors.Wrap(err, "[Client.Refresh]")
	}
	if tokens.AccessToken == "" {
		return nil, errors.New("[Client.Refresh] response carried no access token")
	}
	return &tokens, nil
}

// RevokeSession invalidates a session on the backend. accessToken may be empty.
func (c *Client) RevokeSession(ctx context.Context, sessionID, accessToken string) error {
	if err := c.do(ctx, http.MethodDelete, SessionsPath+url.PathEscape(sessionID), accessToken, nil, nil); err != nil {
		return errors.Wrap(err, "[Client.RevokeSession]")
	}
	return nil
}

// CurrentUser fetches the profile the access token belongs to.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*session.User, error) {
	var user session.User
	if err := c.do(ctx, http.MethodGet, UserPath, accessToken, nil, &user); err != nil {
		return nil, errors.Wrap(err, "[Client.CurrentUser]")
	}
	return &user, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "json.Marshal")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "http.NewRequestWithContext")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "httpClient.Do")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return errors.Wrap(err, "io.ReadAll")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp.StatusCode, data, json.Unmarshal)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "json.Unmarshal")
	}
	return nil
}
