// Package auth wires the token inspector, storage, session store, OAuth
// state guard and refresh scheduler into one client for the authorization
// code flow against the identity backend.
package auth

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-auth-client/api"
	"github.com/jrsteele09/go-auth-client/config"
	"github.com/jrsteele09/go-auth-client/internal/instrumentation"
	"github.com/jrsteele09/go-auth-client/oauthstate"
	"github.com/jrsteele09/go-auth-client/refresh"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"
)

// Client drives login, callback handling, refresh and logout for one
// configured backend and store.
type Client struct {
	cfg       config.Config
	api       *api.Client
	storage   *storage.Adapter
	sessions  *session.Store
	state     *oauthstate.Guard
	scheduler *refresh.Scheduler
	logger    zerolog.Logger
}

type clientOptions struct {
	logger       zerolog.Logger
	meter        metric.Meter
	httpClient   *http.Client
	jar          storage.Jar
	redis        redis.UniversalClient
	stateBackend storage.Backend
	callbacks    refresh.Callbacks
	refreshOpts  []refresh.Option
}

// Option configures a Client.
type Option func(*clientOptions)

// WithLogger sets the logger every component logs to.
func WithLogger(l zerolog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithMeter records refresh, storage and state metrics on meter.
func WithMeter(meter metric.Meter) Option {
	return func(o *clientOptions) { o.meter = meter }
}

// WithHTTPClient sets the HTTP client used to reach the backend.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = hc }
}

// WithJar sets the cookie jar for cookie storage.
func WithJar(jar storage.Jar) Option {
	return func(o *clientOptions) { o.jar = jar }
}

// WithRedisClient supplies the client for the redis durable driver.
func WithRedisClient(rdb redis.UniversalClient) Option {
	return func(o *clientOptions) { o.redis = rdb }
}

// WithStateBackend sets the tab-scoped backend holding the OAuth state. By
// default the session backend is shared when storage is tab-scoped with a
// key prefix and a private in-memory backend is used otherwise.
func WithStateBackend(b storage.Backend) Option {
	return func(o *clientOptions) { o.stateBackend = b }
}

// WithCallbacks sets the refresh scheduler hooks.
func WithCallbacks(cb refresh.Callbacks) Option {
	return func(o *clientOptions) { o.callbacks = cb }
}

// WithRefreshOptions passes extra options to the refresh scheduler.
func WithRefreshOptions(opts ...refresh.Option) Option {
	return func(o *clientOptions) { o.refreshOpts = append(o.refreshOpts, opts...) }
}

// New validates cfg and builds the client and its components.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "[auth.New] cfg.Validate")
	}

	o := clientOptions{logger: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}

	var metrics *instrumentation.Metrics
	if o.meter != nil {
		m, err := instrumentation.NewMetrics(o.meter)
		if err != nil {
			return nil, errors.Wrap(err, "[auth.New] instrumentation.NewMetrics")
		}
		metrics = m
	}

	storageOpts := []storage.Option{storage.WithLogger(o.logger), storage.WithMetrics(metrics)}
	if o.jar != nil {
		storageOpts = append(storageOpts, storage.WithJar(o.jar))
	}
	if o.redis != nil {
		storageOpts = append(storageOpts, storage.WithRedisClient(o.redis))
	}
	adapter, err := storage.New(cfg, storageOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "[auth.New] storage.New")
	}

	stateBackend := o.stateBackend
	switch {
	case stateBackend != nil:
	case cfg.IsHeadless():
		stateBackend = storage.HeadlessBackend{}
	case cfg.Storage.Type == config.StorageTab && cfg.Storage.Prefix != "":
		// An unprefixed adapter would clear the pending state with the session.
		stateBackend = adapter.Backend()
	default:
		stateBackend = storage.NewMemoryBackend(0)
	}

	apiOpts := []api.Option{api.WithTimeout(cfg.HTTPTimeout)}
	if o.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(o.httpClient))
	}
	remote := api.New(cfg.BaseURL, apiOpts...)
	sessions := session.NewStore(adapter)

	refreshOpts := append([]refresh.Option{
		refresh.WithCallbacks(o.callbacks),
		refresh.WithLogger(o.logger),
		refresh.WithMetrics(metrics),
	}, o.refreshOpts...)

	return &Client{
		cfg:       cfg,
		api:       remote,
		storage:   adapter,
		sessions:  sessions,
		state:     oauthstate.New(stateBackend, oauthstate.WithLogger(o.logger), oauthstate.WithMetrics(metrics)),
		scheduler: refresh.New(sessions, remote, cfg.Refresh, refreshOpts...),
		logger:    o.logger,
	}, nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() config.Config {
	return c.cfg
}

// Sessions exposes the session store.
func (c *Client) Sessions() *session.Store {
	return c.sessions
}

// Scheduler exposes the refresh scheduler.
func (c *Client) Scheduler() *refresh.Scheduler {
	return c.scheduler
}

// Login issues a fresh OAuth state and returns the URL to send the user to.
func (c *Client) Login(provider, redirectURI string) (string, error) {
	if provider == "" {
		return "", ErrMissingProviderName
	}
	if err := ValidateRedirectURI(redirectURI, c.cfg.Production); err != nil {
		return "", err
	}
	state, err := c.state.Generate()
	if err != nil {
		return "", errors.Wrap(err, "[Client.Login] state.Generate")
	}
	return c.api.AuthorizeURL(provider, redirectURI, state), nil
}

// HandleCallback completes the flow started by Login: it checks the
// provider's answer and the state, exchanges the code and stores the
// resulting session. Failures are typed: *ProviderError, ErrMissingCode,
// ErrStateMismatch, or a wrapped *api.Error when the backend refuses the code.
func (c *Client) HandleCallback(ctx context.Context, params CallbackParams) (*session.Record, error) {
	if params.Error != "" {
		return nil, &ProviderError{Code: params.Error, Description: params.ErrorDescription}
	}
	if params.Code == "" {
		return nil, ErrMissingCode
	}
	if !c.state.Validate(params.State) {
		return nil, ErrStateMismatch
	}

	record, err := c.api.ExchangeCode(ctx, params.Code, params.RedirectURI)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.HandleCallback] ExchangeCode")
	}
	c.sessions.Save(record.Session, record.User)
	c.logger.Info().Str("session", record.Session.ID).Str("provider", record.Session.Provider).Msg("signed in")
	return record, nil
}

// Session returns the current record, absent when there is none or it has
// expired.
func (c *Client) Session() (*session.Record, bool) {
	return c.sessions.Get()
}

// IsAuthenticated reports whether a live session is stored.
func (c *Client) IsAuthenticated() bool {
	_, ok := c.sessions.Get()
	return ok
}

// RefreshToken renews the token pair now. See refresh.Scheduler.RefreshToken.
func (c *Client) RefreshToken(ctx context.Context) bool {
	return c.scheduler.RefreshToken(ctx)
}

// CurrentUser fetches the signed in user's profile and stores it.
func (c *Client) CurrentUser(ctx context.Context) (*session.User, error) {
	accessToken, ok := c.sessions.AccessToken()
	if !ok {
		return nil, ErrNoSession
	}
	user, err := c.api.CurrentUser(ctx, accessToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.CurrentUser] api.CurrentUser")
	}
	c.sessions.SetUser(*user)
	return user, nil
}

// Logout revokes the session on the backend and clears it locally. Local
// credentials are cleared even when the backend call fails; that failure is
// still returned.
func (c *Client) Logout(ctx context.Context) error {
	record, ok := c.sessions.Get()
	defer c.sessions.Clear()
	if !ok {
		return nil
	}

	if err := c.api.RevokeSession(ctx, record.Session.ID, record.Session.AccessToken); err != nil {
		c.logger.Warn().Err(err).Str("session", record.Session.ID).Msg("backend logout failed, clearing local session")
		return errors.Wrap(err, "[Client.Logout] RevokeSession")
	}
	c.logger.Info().Str("session", record.Session.ID).Msg("signed out")
	return nil
}

// Start begins background refresh when the configuration enables it.
func (c *Client) Start(ctx context.Context) {
	c.scheduler.Start(ctx)
}

// Close stops background refresh and releases the storage backend.
func (c *Client) Close() error {
	c.scheduler.Stop()
	return c.storage.Close()
}
