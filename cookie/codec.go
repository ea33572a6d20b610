// Package cookie parses raw Cookie headers and renders Set-Cookie directives.
//
// The codec has no notion of a live cookie jar. It is shared by the storage
// layer's cookie backend and by server-side callers that only hold a request
// header.
package cookie

import (
	"net/url"
	"strconv"
	"strings"
)

// SameSite is the SameSite attribute of a cookie. Values are rendered
// title-cased regardless of how they were configured.
type SameSite string

const (
	SameSiteLax    SameSite = "lax"
	SameSiteStrict SameSite = "strict"
	SameSiteNone   SameSite = "none"
)

// emptyJSONString is what a JSON-encoded empty string looks like once stored.
const emptyJSONString = `""`

// Options are the attributes attached to a Set-Cookie directive. A zero value
// renders no attributes at all.
type Options struct {
	MaxAge   *int     // Max-Age in seconds, nil to omit
	Path     string   // Path attribute
	Domain   string   // Domain attribute
	Secure   bool     // Secure attribute (forced on in production)
	SameSite SameSite // SameSite attribute
	HTTPOnly bool     // HttpOnly attribute
}

// WithMaxAge returns a copy of o with Max-Age set to seconds.
func (o Options) WithMaxAge(seconds int) Options {
	o.MaxAge = &seconds
	return o
}

// Parse splits a raw Cookie header into a name -> value map. Names and values
// are URL-decoded independently; pairs with no '=' or an empty name are
// skipped, as is any pair that fails to decode.
func Parse(raw string) map[string]string {
	cookies := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		decodedName, err := decode(name)
		if err != nil {
			continue
		}
		decodedValue, err := decode(strings.TrimSpace(value))
		if err != nil {
			continue
		}
		cookies[decodedName] = decodedValue
	}
	return cookies
}

// Lookup finds a cookie by exact name in a raw Cookie header. An empty value or
// a stored empty JSON string counts as not present.
func Lookup(raw, name string) (string, bool) {
	value, ok := Parse(raw)[name]
	if !ok || value == "" || value == emptyJSONString {
		return "", false
	}
	return value, true
}

// BuildSetDirective renders "name=value" followed by, in order, Max-Age, Path,
// Domain, Secure, SameSite and HttpOnly, omitting clauses that were not
// supplied. Secure is always present when production is set.
func BuildSetDirective(name, value string, opts Options, production bool) string {
	var b strings.Builder
	b.WriteString(Encode(name))
	b.WriteByte('=')
	b.WriteString(Encode(value))

	if opts.MaxAge != nil {
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.Itoa(*opts.MaxAge))
	}
	if opts.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(opts.Path)
	}
	if opts.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(opts.Domain)
	}
	if opts.Secure || production {
		b.WriteString("; Secure")
	}
	if opts.SameSite != "" {
		b.WriteString("; SameSite=")
		b.WriteString(titleCase(string(opts.SameSite)))
	}
	if opts.HTTPOnly {
		b.WriteString("; HttpOnly")
	}
	return b.String()
}

// DeleteDirective renders a directive that expires the named cookie.
func DeleteDirective(name string, opts Options, production bool) string {
	return BuildSetDirective(name, "", opts.WithMaxAge(0), production)
}

// Encode escapes s the way browsers' encodeURIComponent does for the
// characters that matter in cookies: spaces become %20, never '+'.
func Encode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// decode reverses Encode. '+' is left as a literal plus sign.
func decode(s string) (string, error) {
	return url.PathUnescape(s)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}
