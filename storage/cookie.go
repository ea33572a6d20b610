package storage

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/cookie"
	"github.com/jrsteele09/go-auth-client/internal/errors"
)

// maxCookieSize is the per-cookie size browsers are required to accept.
const maxCookieSize = 4096

// Jar is the live cookie state a CookieBackend reads and writes: a current
// Cookie header and a sink for Set-Cookie directives.
type Jar interface {
	Header() string
	SetCookie(directive string)
}

// CookieBackend keeps each key in its own cookie. Writes of separate keys are
// separate directives, so it offers no batch atomicity.
type CookieBackend struct {
	jar        Jar
	opts       cookie.Options
	production bool
}

var _ Backend = (*CookieBackend)(nil)

// NewCookieBackend creates a backend writing cookies with opts into jar.
func NewCookieBackend(jar Jar, opts cookie.Options, production bool) *CookieBackend {
	return &CookieBackend{jar: jar, opts: opts, production: production}
}

func (c *CookieBackend) Name() string { return "cookie" }

func (c *CookieBackend) Get(key string) (string, bool, error) {
	value, ok := cookie.Lookup(c.jar.Header(), key)
	return value, ok, nil
}

func (c *CookieBackend) Set(key, value string) error {
	directive := cookie.BuildSetDirective(key, value, c.opts, c.production)
	if len(directive) > maxCookieSize {
		return errors.ErrQuotaExceeded
	}
	c.jar.SetCookie(directive)
	return nil
}

func (c *CookieBackend) Remove(key string) error {
	c.jar.SetCookie(cookie.DeleteDirective(key, c.opts, c.production))
	return nil
}

func (c *CookieBackend) Keys(prefix string) ([]string, error) {
	var keys []string
	for name := range cookie.Parse(c.jar.Header()) {
		if strings.HasPrefix(name, prefix) {
			keys = append(keys, name)
		}
	}
	return keys, nil
}

// DocumentJar is an in-memory cookie jar that applies Set-Cookie directives
// the way a browser document does: Max-Age=0 deletes, a positive Max-Age
// expires the cookie later. Names and values are kept in their encoded form.
type DocumentJar struct {
	mu      sync.Mutex
	cookies map[string]jarEntry
	now     func() time.Time
}

type jarEntry struct {
	value   string
	expires time.Time // zero for a session cookie
}

var _ Jar = (*DocumentJar)(nil)

// NewDocumentJar creates a jar seeded with the pairs of a raw Cookie header.
func NewDocumentJar(header string) *DocumentJar {
	j := &DocumentJar{
		cookies: make(map[string]jarEntry),
		now:     time.Now,
	}
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		j.cookies[strings.TrimSpace(name)] = jarEntry{value: strings.TrimSpace(value)}
	}
	return j
}

// Header renders the live cookies as a Cookie header, sorted by name.
func (j *DocumentJar) Header() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	names := make([]string, 0, len(j.cookies))
	for name, entry := range j.cookies {
		if !entry.expires.IsZero() && !now.Before(entry.expires) {
			delete(j.cookies, name)
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = name + "=" + j.cookies[name].value
	}
	return strings.Join(pairs, "; ")
}

// SetCookie applies one Set-Cookie directive.
func (j *DocumentJar) SetCookie(directive string) {
	parts := strings.Split(directive, ";")
	name, value, ok := strings.Cut(strings.TrimSpace(parts[0]), "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return
	}

	entry := jarEntry{value: strings.TrimSpace(value)}
	for _, attr := range parts[1:] {
		k, v, _ := strings.Cut(strings.TrimSpace(attr), "=")
		if !strings.EqualFold(k, "Max-Age") {
			continue
		}
		seconds, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		if seconds <= 0 {
			j.mu.Lock()
			delete(j.cookies, name)
			j.mu.Unlock()
			return
		}
		entry.expires = j.now().Add(time.Duration(seconds) * time.Second)
	}

	j.mu.Lock()
	j.cookies[name] = entry
	j.mu.Unlock()
}
