package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/rs/zerolog/log"
)

const callbackPath = "/callback"

var callbackPage = template.Must(template.New("callback").Parse(`<!doctype html>
<html><body><p>{{.}} You can close this window and return to the terminal.</p></body></html>
`))

// callbackReceiver is a one-shot loopback HTTP server that catches the
// redirect back from the identity backend.
type callbackReceiver struct {
	listener net.Listener
	server   *http.Server
	results  chan auth.CallbackParams
}

// newCallbackReceiver listens on 127.0.0.1:port; port 0 picks a free one.
func newCallbackReceiver(port int) (*callbackReceiver, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("net.Listen: %w", err)
	}

	rcv := &callbackReceiver{
		listener: listener,
		results:  make(chan auth.CallbackParams, 1),
	}
	r := mux.NewRouter()
	r.HandleFunc(callbackPath, rcv.handleCallback).Methods(http.MethodGet)
	rcv.server = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := rcv.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Msg("callback receiver stopped")
		}
	}()
	return rcv, nil
}

// RedirectURI is the address to register as the flow's redirect_uri.
func (rcv *callbackReceiver) RedirectURI() string {
	return "http://" + rcv.listener.Addr().String() + callbackPath
}

func (rcv *callbackReceiver) handleCallback(w http.ResponseWriter, r *http.Request) {
	params := auth.ParseCallback(r.URL.Query(), rcv.RedirectURI())

	message := "Signed in."
	if params.Error != "" {
		message = "Sign in failed: " + params.Error + "."
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := callbackPage.Execute(w, message); err != nil {
		log.Err(err).Msg("writing callback page")
	}

	select {
	case rcv.results <- params:
	default:
		log.Warn().Msg("ignoring repeated callback")
	}
}

// Wait blocks until the callback arrives or ctx ends.
func (rcv *callbackReceiver) Wait(ctx context.Context) (auth.CallbackParams, error) {
	select {
	case params := <-rcv.results:
		return params, nil
	case <-ctx.Done():
		return auth.CallbackParams{}, ctx.Err()
	}
}

// Close shuts the server down, giving in-flight responses a moment to finish.
func (rcv *callbackReceiver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rcv.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
