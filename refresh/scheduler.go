// Package refresh keeps the stored session's token pair fresh: it renews on
// demand, and optionally watches the expiry in the background and renews
// ahead of it.
package refresh

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jrsteele09/go-auth-client/api"
	"github.com/jrsteele09/go-auth-client/config"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/instrumentation"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Refresher renews a token pair against the identity backend.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*api.Tokens, error)
}

// Callbacks are invoked from whichever goroutine ran the refresh. Any of them
// may be nil.
type Callbacks struct {
	OnRefreshSuccess func(session.Record)
	OnRefreshError   func(message string)
	OnSessionExpired func()
}

// Scheduler renews the session held by a session.Store.
type Scheduler struct {
	store      *session.Store
	remote     Refresher
	cfg        config.RefreshConfig
	callbacks  Callbacks
	logger     zerolog.Logger
	metrics    *instrumentation.Metrics
	newBackOff func() backoff.BackOff

	mu       sync.Mutex
	inflight *flight
	lastSeen int64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type flight struct {
	done chan struct{}
	err  error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCallbacks sets the success, error and expiry hooks.
func WithCallbacks(cb Callbacks) Option {
	return func(s *Scheduler) { s.callbacks = cb }
}

// WithLogger sets the logger. The global zerolog logger is used otherwise.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics records every refresh outcome on m.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithBackOff sets the delay policy between passive refresh attempts.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Scheduler) { s.newBackOff = newBackOff }
}

// New creates a scheduler. Nothing runs in the background until Start.
func New(store *session.Store, remote Refresher, cfg config.RefreshConfig, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		remote: remote,
		cfg:    cfg,
		logger: log.Logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.MaxAttempts < 1 {
		s.cfg.MaxAttempts = 1
	}
	if s.cfg.Interval <= 0 {
		s.cfg.Interval = config.DefaultRefreshInterval
	}
	return s
}

// RefreshToken renews the stored token pair once. On success the store is
// updated and OnRefreshSuccess runs; on failure OnRefreshError receives the
// error message and the stored credentials are left as they were.
//
// Concurrent calls share one request. The request is not tied to ctx: if ctx
// ends first RefreshToken returns false, but the result is still stored.
func (s *Scheduler) RefreshToken(ctx context.Context) bool {
	return s.refresh(ctx) == nil
}

// Check renews the session when it is within the threshold of expiry,
// retrying up to MaxAttempts times. When every attempt fails and the access
// token has already expired, OnSessionExpired runs and the session is cleared.
func (s *Scheduler) Check(ctx context.Context) {
	expiresAt, ok := s.store.ExpiresAt()
	if !ok {
		return
	}
	s.observe(expiresAt)

	expiry := time.UnixMilli(expiresAt)
	if NowTimeFunc().Before(expiry.Add(-s.cfg.Threshold)) {
		return
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.refresh(ctx)
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(s.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug().Err(err).Dur("next", next).Msg("session refresh retry scheduled")
		}),
	)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		s.logger.Debug().Err(err).Msg("session check cancelled")
		return
	}
	if !s.accessExpired(expiry) {
		s.logger.Warn().Err(err).Time("expires_at", expiry).Msg("session refresh failed, token still valid")
		return
	}

	s.logger.Warn().Err(err).Msg("session expired")
	s.metrics.RecordRefresh(context.Background(), instrumentation.ResultExpired)
	s.store.Clear()
	if s.callbacks.OnSessionExpired != nil {
		s.callbacks.OnSessionExpired()
	}
}

// Start runs Check every Interval until ctx ends or Stop is called. It is a
// no-op unless AutoRefresh is set or when already running. Change
// notifications from the storage backend trigger an extra Check when they
// carry a different expiry, so a sibling process's refresh is picked up.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.AutoRefresh {
		return
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	changes, err := s.store.Storage().Watch(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("storage change notifications unavailable")
	}

	go s.run(ctx, changes, done)
}

// Stop ends monitoring started by Start and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the monitoring loop is active.
func (s *Scheduler) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) run(ctx context.Context, changes <-chan struct{}, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if expiresAt, ok := s.store.ExpiresAt(); ok && s.changed(expiresAt) {
				s.logger.Debug().Int64("expires_at", expiresAt).Msg("session changed in storage")
				s.Check(ctx)
			}
		}
	}
}

func (s *Scheduler) refresh(ctx context.Context) error {
	s.mu.Lock()
	f := s.inflight
	if f == nil {
		f = &flight{done: make(chan struct{})}
		s.inflight = f
		go func() {
			f.err = s.perform(context.WithoutCancel(ctx))
			s.mu.Lock()
			s.inflight = nil
			s.mu.Unlock()
			close(f.done)
		}()
	}
	s.mu.Unlock()

	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) perform(ctx context.Context) error {
	refreshToken, ok := s.store.RefreshToken()
	if !ok {
		return backoff.Permanent(s.failed(autherrors.ErrNoRefreshToken))
	}

	tokens, err := s.remote.Refresh(ctx, refreshToken)
	if err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) && !retryableStatus(apiErr.Status) {
			return backoff.Permanent(s.failed(err))
		}
		return s.failed(err)
	}

	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	expiresAt := tokens.ExpiresAt
	if expiresAt == 0 {
		if exp, ok := token.ExpirationTime(tokens.AccessToken); ok {
			expiresAt = exp.UnixMilli()
		} else if previous, ok := s.store.ExpiresAt(); ok {
			expiresAt = previous
		}
	}

	record, ok := s.store.UpdateTokens(tokens.AccessToken, tokens.RefreshToken, expiresAt)
	if !ok {
		return backoff.Permanent(s.failed(autherrors.ErrNoSession))
	}
	s.observe(expiresAt)

	s.logger.Debug().Str("session", record.Session.ID).Time("expires_at", record.Session.Expiry()).Msg("session refreshed")
	s.metrics.RecordRefresh(ctx, instrumentation.ResultSuccess)
	if s.callbacks.OnRefreshSuccess != nil {
		s.callbacks.OnRefreshSuccess(*record)
	}
	return nil
}

func (s *Scheduler) failed(err error) error {
	s.logger.Err(err).Msg("session refresh failed")
	s.metrics.RecordRefresh(context.Background(), instrumentation.ResultFailure)
	if s.callbacks.OnRefreshError != nil {
		s.callbacks.OnRefreshError(err.Error())
	}
	return err
}

// accessExpired reports whether the session, or the access token's own exp
// claim when it has one, has run out.
func (s *Scheduler) accessExpired(expiry time.Time) bool {
	if !NowTimeFunc().Before(expiry) {
		return true
	}
	access, ok := s.store.AccessToken()
	if !ok {
		return true
	}
	if _, ok := token.ExpirationTime(access); ok {
		return token.IsExpired(access)
	}
	return false
}

func (s *Scheduler) observe(expiresAt int64) {
	s.mu.Lock()
	s.lastSeen = expiresAt
	s.mu.Unlock()
}

func (s *Scheduler) changed(expiresAt int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen != expiresAt
}

// retryableStatus reports whether a failed refresh with this HTTP status is
// worth another attempt.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= http.StatusInternalServerError
}
