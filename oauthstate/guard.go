// Package oauthstate implements the anti-forgery "state" parameter of the
// authorization code flow: a single-use random token kept in tab-scoped
// storage between the redirect to the provider and the callback.
package oauthstate

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/internal/instrumentation"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Key is the storage key of the state slot. It is never prefixed, so every
// adapter sharing the backend sees the same slot.
const Key = "oauth_state"

const fallbackLength = 32

// RandomFunc produces a state token. It can be overridden in tests.
var RandomFunc = newState

// Guard holds at most one live state token.
type Guard struct {
	backend storage.Backend
	logger  zerolog.Logger
	metrics *instrumentation.Metrics
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger. The global zerolog logger is used otherwise.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithMetrics records every validation outcome on m.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// New creates a guard over a tab-scoped backend.
func New(backend storage.Backend, opts ...Option) *Guard {
	g := &Guard{backend: backend, logger: log.Logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate creates a fresh token and stores it, replacing any previous one.
func (g *Guard) Generate() (string, error) {
	state, err := RandomFunc()
	if err != nil {
		return "", errors.Wrap(err, "[Guard.Generate] RandomFunc")
	}
	if err := g.backend.Set(Key, state); err != nil {
		return "", errors.Wrap(err, "[Guard.Generate] backend.Set")
	}
	return state, nil
}

// Validate reports whether candidate matches the stored token. A match
// consumes the token; a mismatch leaves it in place. With no stored token
// nothing is touched and the result is false.
func (g *Guard) Validate(candidate string) bool {
	valid := g.validate(candidate)
	g.metrics.RecordStateCheck(context.Background(), valid)
	return valid
}

func (g *Guard) validate(candidate string) bool {
	stored, ok, err := g.backend.Get(Key)
	if err != nil {
		g.logger.Err(err).Str("key", Key).Msg("oauth state read failed")
		return false
	}
	if !ok || stored == "" || candidate == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) != 1 {
		g.logger.Warn().Msg("oauth state mismatch")
		return false
	}
	if err := g.backend.Remove(Key); err != nil {
		g.logger.Err(err).Str("key", Key).Msg("oauth state consume failed")
	}
	return true
}

// Pending reports whether a token is waiting to be validated.
func (g *Guard) Pending() bool {
	stored, ok, err := g.backend.Get(Key)
	return err == nil && ok && stored != ""
}

func newState() (string, error) {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String(), nil
	}
	b := make([]byte, fallbackLength)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
