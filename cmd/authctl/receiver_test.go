package main

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCallbackReceiver(t *testing.T) {
	rcv, err := newCallbackReceiver(0)
	require.NoError(t, err)
	defer rcv.Close()

	require.True(t, strings.HasPrefix(rcv.RedirectURI(), "http://127.0.0.1:"))
	require.True(t, strings.HasSuffix(rcv.RedirectURI(), "/callback"))

	resp, err := http.Get(rcv.RedirectURI() + "?code=c-1&state=st-1")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "Signed in.")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	params, err := rcv.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "c-1", params.Code)
	require.Equal(t, "st-1", params.State)
	require.Equal(t, rcv.RedirectURI(), params.RedirectURI)
}

func TestCallbackReceiver_ProviderError(t *testing.T) {
	rcv, err := newCallbackReceiver(0)
	require.NoError(t, err)
	defer rcv.Close()

	resp, err := http.Get(rcv.RedirectURI() + "?error=access_denied&error_description=nope")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Contains(t, string(body), "Sign in failed: access_denied.")

	params, err := rcv.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access_denied", params.Error)
	require.Equal(t, "nope", params.ErrorDescription)
}

func TestCallbackReceiver_EscapesProviderError(t *testing.T) {
	rcv, err := newCallbackReceiver(0)
	require.NoError(t, err)
	defer rcv.Close()

	query := url.Values{"error": {"<script>alert(1)</script>"}}
	resp, err := http.Get(rcv.RedirectURI() + "?" + query.Encode())
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NotContains(t, string(body), "<script>")
	require.Contains(t, string(body), "&lt;script&gt;")

	params, err := rcv.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "<script>alert(1)</script>", params.Error)
}

func TestCallbackReceiver_WaitTimeout(t *testing.T) {
	rcv, err := newCallbackReceiver(0)
	require.NoError(t, err)
	defer rcv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = rcv.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallbackReceiver_OnlyGet(t *testing.T) {
	rcv, err := newCallbackReceiver(0)
	require.NoError(t, err)
	defer rcv.Close()

	resp, err := http.Post(rcv.RedirectURI(), "text/plain", nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
