// Package storage is the uniform key/value layer the session store and OAuth
// state guard sit on.
//
// An Adapter namespaces every key with a prefix, JSON-encodes values and never
// returns a storage failure to its caller: unreadable values read as absent,
// rejected writes are logged and dropped. The Backend underneath is chosen
// once, at construction, from the configuration:
//
//	tab      MemoryBackend (process lifetime)
//	durable  FileBackend, SQLiteBackend or RedisBackend
//	cookie   CookieBackend over a Jar
//
// A headless configuration swaps in HeadlessBackend, so callers never branch
// on where they run.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jrsteele09/go-auth-client/config"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/instrumentation"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Adapter is a prefixed, JSON-valued view over a Backend.
type Adapter struct {
	backend Backend
	prefix  string
	logger  zerolog.Logger
	metrics *instrumentation.Metrics
}

// Option configures an Adapter.
type Option func(*adapterOptions)

type adapterOptions struct {
	logger  zerolog.Logger
	metrics *instrumentation.Metrics
	jar     Jar
	redis   redis.UniversalClient
}

// WithLogger sets the logger used for swallowed failures.
func WithLogger(l zerolog.Logger) Option {
	return func(o *adapterOptions) { o.logger = l }
}

// WithMetrics records swallowed failures.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(o *adapterOptions) { o.metrics = m }
}

// WithJar sets the cookie jar for the cookie storage type. Without it an
// empty DocumentJar is used.
func WithJar(jar Jar) Option {
	return func(o *adapterOptions) { o.jar = jar }
}

// WithRedisClient supplies the client for the redis durable driver instead of
// dialing Storage.RedisAddr.
func WithRedisClient(rdb redis.UniversalClient) Option {
	return func(o *adapterOptions) { o.redis = rdb }
}

func resolveOptions(opts []Option) adapterOptions {
	o := adapterOptions{logger: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the backend cfg asks for and wraps it in an Adapter.
func New(cfg config.Config, opts ...Option) (*Adapter, error) {
	o := resolveOptions(opts)
	backend, err := newBackend(cfg, o)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		backend: backend,
		prefix:  cfg.Storage.Prefix,
		logger:  o.logger.With().Str("backend", backend.Name()).Logger(),
		metrics: o.metrics,
	}, nil
}

// NewWithBackend wraps an existing backend.
func NewWithBackend(backend Backend, prefix string, opts ...Option) *Adapter {
	o := resolveOptions(opts)
	return &Adapter{
		backend: backend,
		prefix:  prefix,
		logger:  o.logger.With().Str("backend", backend.Name()).Logger(),
		metrics: o.metrics,
	}
}

func newBackend(cfg config.Config, o adapterOptions) (Backend, error) {
	if cfg.IsHeadless() {
		return HeadlessBackend{}, nil
	}

	switch cfg.Storage.Type {
	case config.StorageTab:
		return NewMemoryBackend(cfg.Storage.Quota), nil

	case config.StorageCookie:
		jar := o.jar
		if jar == nil {
			jar = NewDocumentJar("")
		}
		return NewCookieBackend(jar, cfg.Storage.CookieOptions, cfg.Production), nil

	case config.StorageDurable:
		switch cfg.Storage.Driver {
		case config.DriverFile, "":
			key, err := ParseKey(cfg.Storage.EncryptionKey)
			if err != nil {
				return nil, err
			}
			return NewFileBackend(cfg.Storage.Path, key)
		case config.DriverSQLite:
			return NewSQLiteBackend(cfg.Storage.Path)
		case config.DriverRedis:
			rdb := o.redis
			if rdb == nil {
				rdb = redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
			}
			return NewRedisBackend(rdb), nil
		}
		return nil, fmt.Errorf("%w: %q", autherrors.ErrUnsupportedKind, cfg.Storage.Driver)
	}
	return nil, fmt.Errorf("%w: %q", autherrors.ErrUnknownBackend, cfg.Storage.Type)
}

// Backend exposes the backend behind the adapter.
func (a *Adapter) Backend() Backend {
	return a.backend
}

// Prefix is the namespace every key is stored under.
func (a *Adapter) Prefix() string {
	return a.prefix
}

// Key returns the backend key for a logical key.
func (a *Adapter) Key(key string) string {
	return a.prefix + key
}

// Get decodes the value stored under key into out and reports whether it was
// present and readable.
func (a *Adapter) Get(key string, out any) bool {
	raw, ok, err := a.backend.Get(a.Key(key))
	if err != nil {
		a.dropped("get", key, err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		a.dropped("get", key, autherrors.Wrapf(autherrors.ErrCorruptValue, "decode: %v", err))
		return false
	}
	return true
}

// Load is the generic form of Get.
func Load[T any](a *Adapter, key string) (T, bool) {
	var v T
	if !a.Get(key, &v) {
		var zero T
		return zero, false
	}
	return v, true
}

// Set stores value under key. Failures are logged, never returned.
func (a *Adapter) Set(key string, value any) {
	a.SetMany(map[string]any{key: value})
}

// SetMany stores several keys. On a Batcher backend they are applied
// atomically; otherwise they are written one at a time and a failure part way
// leaves the earlier writes in place.
func (a *Adapter) SetMany(values map[string]any) {
	encoded := make(map[string]string, len(values))
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			a.dropped("set", k, err)
			continue
		}
		encoded[a.Key(k)] = string(data)
	}
	if len(encoded) == 0 {
		return
	}

	if batcher, ok := a.backend.(Batcher); ok {
		if err := batcher.SetMany(encoded); err != nil {
			a.dropped("set", strings.Join(logicalKeys(a.prefix, encoded), ","), err)
		}
		return
	}
	for k, v := range encoded {
		if err := a.backend.Set(k, v); err != nil {
			a.dropped("set", strings.TrimPrefix(k, a.prefix), err)
		}
	}
}

// Remove deletes key.
func (a *Adapter) Remove(key string) {
	a.RemoveMany(key)
}

// RemoveMany deletes several keys, atomically on a Batcher backend.
func (a *Adapter) RemoveMany(keys ...string) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = a.Key(k)
	}
	a.removeFull(full)
}

// Clear removes every key under the prefix and nothing else.
func (a *Adapter) Clear() {
	keys, err := a.backend.Keys(a.prefix)
	if err != nil {
		a.dropped("clear", "*", err)
		return
	}
	owned := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, a.prefix) {
			owned = append(owned, k)
		}
	}
	a.removeFull(owned)
}

// Watch forwards change notifications from backends that other processes can
// modify. Backends without change reporting return an error.
func (a *Adapter) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, ok := a.backend.(Watcher)
	if !ok {
		return nil, fmt.Errorf("%s backend does not report changes", a.backend.Name())
	}
	return watcher.Watch(ctx)
}

// Close releases backends that hold resources (database handles, clients).
func (a *Adapter) Close() error {
	if closer, ok := a.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (a *Adapter) removeFull(keys []string) {
	if len(keys) == 0 {
		return
	}
	if batcher, ok := a.backend.(Batcher); ok {
		if err := batcher.RemoveMany(keys); err != nil {
			a.dropped("remove", strings.Join(keys, ","), err)
		}
		return
	}
	for _, k := range keys {
		if err := a.backend.Remove(k); err != nil {
			a.dropped("remove", strings.TrimPrefix(k, a.prefix), err)
		}
	}
}

func (a *Adapter) dropped(operation, key string, err error) {
	reason := "error"
	event := a.logger.Error()
	switch {
	case errors.Is(err, autherrors.ErrQuotaExceeded):
		reason = "quota"
		event = a.logger.Warn()
	case errors.Is(err, autherrors.ErrCorruptValue):
		reason = "corrupt"
		event = a.logger.Warn()
	}
	event.Err(err).Str("operation", operation).Str("key", key).Msg("storage operation dropped")
	a.metrics.RecordStorageError(context.Background(), a.backend.Name(), operation, reason)
}

func logicalKeys(prefix string, encoded map[string]string) []string {
	keys := make([]string, 0, len(encoded))
	for k := range encoded {
		keys = append(keys, strings.TrimPrefix(k, prefix))
	}
	return keys
}
