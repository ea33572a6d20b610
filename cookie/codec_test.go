package cookie_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-client/cookie"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{
			name: "empty header",
			raw:  "",
			want: map[string]string{},
		},
		{
			name: "simple pairs with whitespace",
			raw:  " a=1 ;b=2;  c = 3 ",
			want: map[string]string{"a": "1", "b": "2", "c": "3"},
		},
		{
			name: "value containing equals",
			raw:  "token=abc==; other=x",
			want: map[string]string{"token": "abc==", "other": "x"},
		},
		{
			name: "entries without equals or name are skipped",
			raw:  "flag; =orphan; ok=yes",
			want: map[string]string{"ok": "yes"},
		},
		{
			name: "url decoding of names and values",
			raw:  "app%20name=%7B%22a%22%3A1%7D",
			want: map[string]string{"app name": `{"a":1}`},
		},
		{
			name: "bad escape only drops that entry",
			raw:  "bad=%zz; good=%41",
			want: map[string]string{"good": "A"},
		},
		{
			name: "plus is not a space",
			raw:  "p=a+b",
			want: map[string]string{"p": "a+b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, cookie.Parse(tt.raw))
		})
	}
}

func TestLookup(t *testing.T) {
	raw := `app_session=%7B%7D; app_empty=; app_blank=%22%22`

	value, ok := cookie.Lookup(raw, "app_session")
	require.True(t, ok)
	require.Equal(t, "{}", value)

	_, ok = cookie.Lookup(raw, "app_empty")
	require.False(t, ok, "empty value is not present")

	_, ok = cookie.Lookup(raw, "app_blank")
	require.False(t, ok, "empty JSON string is not present")

	_, ok = cookie.Lookup(raw, "app_missing")
	require.False(t, ok)
}

func TestBuildSetDirective(t *testing.T) {
	t.Run("all clauses in order", func(t *testing.T) {
		opts := cookie.Options{
			Path:     "/",
			Domain:   "example.com",
			Secure:   true,
			SameSite: cookie.SameSiteLax,
			HTTPOnly: true,
		}.WithMaxAge(3600)

		got := cookie.BuildSetDirective("app_session", `{"id":"s1"}`, opts, false)
		require.Equal(t, "app_session=%7B%22id%22%3A%22s1%22%7D; Max-Age=3600; Path=/; Domain=example.com; Secure; SameSite=Lax; HttpOnly", got)
	})

	t.Run("no options", func(t *testing.T) {
		require.Equal(t, "a=b", cookie.BuildSetDirective("a", "b", cookie.Options{}, false))
	})

	t.Run("secure forced in production", func(t *testing.T) {
		got := cookie.BuildSetDirective("a", "b", cookie.Options{Path: "/"}, true)
		require.Equal(t, "a=b; Path=/; Secure", got)
	})

	t.Run("same site is title cased", func(t *testing.T) {
		got := cookie.BuildSetDirective("a", "b", cookie.Options{SameSite: "STRICT"}, false)
		require.Equal(t, "a=b; SameSite=Strict", got)
	})

	t.Run("spaces are percent encoded", func(t *testing.T) {
		require.Equal(t, "my%20name=a%20b", cookie.BuildSetDirective("my name", "a b", cookie.Options{}, false))
	})

	t.Run("delete", func(t *testing.T) {
		got := cookie.DeleteDirective("app_user", cookie.Options{Path: "/"}, false)
		require.Equal(t, "app_user=; Max-Age=0; Path=/", got)
	})
}

func TestEncodeRoundTripsThroughParse(t *testing.T) {
	value := `{"email":"a+b@c.com","name":"Ada Lovelace; Countess"}`
	directive := cookie.BuildSetDirective("app_user", value, cookie.Options{}, false)

	// The header a browser sends back is the name=value part of the directive.
	parsed := cookie.Parse(directive)
	require.Equal(t, value, parsed["app_user"])
}
