package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/cookie"
)

const (
	baseURLVar        = "AUTH_BASE_URL"
	envVar            = "ENV"
	headlessVar       = "AUTH_HEADLESS"
	timeoutVar        = "AUTH_HTTP_TIMEOUT"
	storageTypeVar    = "AUTH_STORAGE_TYPE"
	storagePrefixVar  = "AUTH_STORAGE_PREFIX"
	storageDriverVar  = "AUTH_STORAGE_DRIVER"
	storagePathVar    = "AUTH_STORAGE_PATH"
	storageKeyVar     = "AUTH_STORAGE_KEY"
	storageQuotaVar   = "AUTH_STORAGE_QUOTA"
	redisAddrVar      = "AUTH_REDIS_ADDR"
	cookiePathVar     = "AUTH_COOKIE_PATH"
	cookieDomainVar   = "AUTH_COOKIE_DOMAIN"
	cookieSecureVar   = "AUTH_COOKIE_SECURE"
	cookieSameSiteVar = "AUTH_COOKIE_SAMESITE"
	cookieMaxAgeVar   = "AUTH_COOKIE_MAX_AGE"
	cookieHTTPOnlyVar = "AUTH_COOKIE_HTTPONLY"
	autoRefreshVar    = "AUTH_REFRESH_AUTO"
	thresholdVar      = "AUTH_REFRESH_THRESHOLD"
	intervalVar       = "AUTH_REFRESH_INTERVAL"
	maxAttemptsVar    = "AUTH_REFRESH_MAX_ATTEMPTS"
)

// FromEnv resolves a Config from environment variables, falling back to
// Default for anything unset.
func FromEnv() Config {
	c := Default(GetEnv(baseURLVar, "http://localhost:8080"))

	switch strings.ToUpper(GetEnv(envVar, "DEV")) {
	case "PROD", "PRODUCTION":
		c.Production = true
	}
	if getBool(headlessVar, false) {
		c.Environment = Headless
	}
	c.HTTPTimeout = getDuration(timeoutVar, c.HTTPTimeout)

	c.Storage.Type = ParseStorageType(GetEnv(storageTypeVar, string(c.Storage.Type)))
	c.Storage.Prefix = GetEnv(storagePrefixVar, c.Storage.Prefix)
	c.Storage.Driver = DurableDriver(strings.ToLower(GetEnv(storageDriverVar, string(c.Storage.Driver))))
	c.Storage.Path = GetEnv(storagePathVar, c.Storage.Path)
	c.Storage.EncryptionKey = GetEnv(storageKeyVar, "")
	c.Storage.RedisAddr = GetEnv(redisAddrVar, "")
	c.Storage.Quota = getInt(storageQuotaVar, 0)

	opts := c.Storage.CookieOptions
	opts.Path = GetEnv(cookiePathVar, opts.Path)
	opts.Domain = GetEnv(cookieDomainVar, opts.Domain)
	opts.Secure = getBool(cookieSecureVar, opts.Secure)
	opts.SameSite = cookie.SameSite(strings.ToLower(GetEnv(cookieSameSiteVar, string(opts.SameSite))))
	opts.HTTPOnly = getBool(cookieHTTPOnlyVar, opts.HTTPOnly)
	if maxAge := getInt(cookieMaxAgeVar, -1); maxAge >= 0 {
		opts = opts.WithMaxAge(maxAge)
	}
	c.Storage.CookieOptions = opts

	c.Refresh.AutoRefresh = getBool(autoRefreshVar, c.Refresh.AutoRefresh)
	c.Refresh.Threshold = getDuration(thresholdVar, c.Refresh.Threshold)
	c.Refresh.Interval = getDuration(intervalVar, c.Refresh.Interval)
	c.Refresh.MaxAttempts = getInt(maxAttemptsVar, c.Refresh.MaxAttempts)
	return c
}

// ParseStorageType accepts the canonical names plus the browser storage names
// they stand in for.
func ParseStorageType(s string) StorageType {
	switch strings.ToLower(s) {
	case "durable", "local", "localstorage":
		return StorageDurable
	case "tab", "session", "sessionstorage":
		return StorageTab
	case "cookie", "cookies":
		return StorageCookie
	}
	return StorageType(s)
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

func getBool(envVar string, defaultValue bool) bool {
	b, err := strconv.ParseBool(GetEnv(envVar, strconv.FormatBool(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return b
}

func getInt(envVar string, defaultValue int) int {
	n, err := strconv.Atoi(GetEnv(envVar, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return n
}

func getDuration(envVar string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(GetEnv(envVar, defaultValue.String()))
	if err != nil {
		return defaultValue
	}
	return d
}
