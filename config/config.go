// Package config holds the resolved configuration record that every component
// of the auth client is constructed with. A Config is a plain value: build it
// once (FromEnv or a literal), then pass it down. Nothing here is global.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/cookie"
	"github.com/jrsteele09/go-auth-client/internal/errors"
)

// Environment selects which storage capability the client runs with.
type Environment string

const (
	// Interactive contexts own a real backing store.
	Interactive Environment = "interactive"
	// Headless contexts (batch jobs, server-side rendering) get a no-op store.
	Headless Environment = "headless"
)

// StorageType is the kind of backend session data is kept in.
type StorageType string

const (
	StorageDurable StorageType = "durable" // survives restarts
	StorageTab     StorageType = "tab"     // lives as long as the process
	StorageCookie  StorageType = "cookie"  // rides in a cookie jar
)

// DurableDriver picks the engine behind the durable storage type.
type DurableDriver string

const (
	DriverFile   DurableDriver = "file"
	DriverSQLite DurableDriver = "sqlite"
	DriverRedis  DurableDriver = "redis"
)

const (
	DefaultPrefix          = "auth_"
	DefaultRefreshInterval = 30 * time.Second
	DefaultThreshold       = 5 * time.Minute
	DefaultMaxAttempts     = 3
	DefaultHTTPTimeout     = 15 * time.Second
)

// StorageConfig describes where and how session data is persisted.
type StorageConfig struct {
	Type          StorageType
	Prefix        string
	CookieOptions cookie.Options

	Driver        DurableDriver // durable only
	Path          string        // file or sqlite location
	EncryptionKey string        // base64, 32 bytes; seals the durable file
	RedisAddr     string        // redis driver only
	Quota         int           // tab storage byte budget, 0 for unlimited
}

// RefreshConfig tunes the session refresh scheduler.
type RefreshConfig struct {
	AutoRefresh bool
	Threshold   time.Duration // renew this long before expiry
	Interval    time.Duration // how often the monitor checks
	MaxAttempts int           // tries per passive refresh
}

// Config is the resolved configuration of the auth client.
type Config struct {
	BaseURL     string
	Production  bool
	Environment Environment
	HTTPTimeout time.Duration
	Storage     StorageConfig
	Refresh     RefreshConfig
}

// Default returns a configuration usable for local development against
// baseURL: tab-scoped storage, default prefix, auto refresh off.
func Default(baseURL string) Config {
	return Config{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Environment: Interactive,
		HTTPTimeout: DefaultHTTPTimeout,
		Storage: StorageConfig{
			Type:          StorageTab,
			Prefix:        DefaultPrefix,
			Driver:        DriverFile,
			CookieOptions: cookie.Options{Path: "/", SameSite: cookie.SameSiteLax},
		},
		Refresh: RefreshConfig{
			Threshold:   DefaultThreshold,
			Interval:    DefaultRefreshInterval,
			MaxAttempts: DefaultMaxAttempts,
		},
	}
}

// IsHeadless reports whether storage should be disabled.
func (c Config) IsHeadless() bool {
	return c.Environment == Headless
}

// Validate checks the record for values no component can work with.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: base URL %q must be absolute", errors.ErrInvalidConfig, c.BaseURL)
	}

	switch c.Environment {
	case Interactive, Headless:
	default:
		return fmt.Errorf("%w: unknown environment %q", errors.ErrInvalidConfig, c.Environment)
	}

	switch c.Storage.Type {
	case StorageTab, StorageCookie:
	case StorageDurable:
		switch c.Storage.Driver {
		case DriverFile, DriverSQLite:
		case DriverRedis:
			if c.Storage.RedisAddr == "" {
				return fmt.Errorf("%w: redis driver needs an address", errors.ErrInvalidConfig)
			}
		default:
			return fmt.Errorf("%w: unknown durable driver %q", errors.ErrInvalidConfig, c.Storage.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown storage type %q", errors.ErrInvalidConfig, c.Storage.Type)
	}

	if c.Refresh.Threshold < 0 || c.Refresh.Interval < 0 {
		return fmt.Errorf("%w: refresh durations must not be negative", errors.ErrInvalidConfig)
	}
	return nil
}
