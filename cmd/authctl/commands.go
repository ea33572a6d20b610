package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/refresh"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newLoginCmd(flags *globalFlags) *cobra.Command {
	var (
		provider string
		port     int
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in through an identity provider",
		Long: `Start a loopback callback receiver, print the authorization URL to open in a
browser and wait for the identity backend to redirect back with a code.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.displayAppname(cmd)
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			rcv, err := newCallbackReceiver(port)
			if err != nil {
				return err
			}
			defer rcv.Close()

			authorizeURL, err := client.Login(provider, rcv.RedirectURI())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Open this URL in your browser to sign in:\n\n  %s\n\n", authorizeURL)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			params, err := rcv.Wait(ctx)
			if err != nil {
				return fmt.Errorf("waiting for callback: %w", err)
			}
			record, err := client.HandleCallback(ctx, params)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", displayName(record.User))
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "github", "identity provider to sign in with")
	cmd.Flags().IntVar(&port, "port", 0, "loopback port for the callback receiver, 0 for any")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the callback")
	return cmd
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			record, ok := client.Session()
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			printStatus(cmd.OutOrStdout(), record)
			return nil
		},
	}
}

func newRefreshCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the stored token pair now",
		RunE: func(cmd *cobra.Command, args []string) error {
			var failure string
			client, err := flags.newClient(auth.WithCallbacks(refresh.Callbacks{
				OnRefreshError: func(message string) { failure = message },
			}))
			if err != nil {
				return err
			}
			defer client.Close()

			if !client.RefreshToken(cmd.Context()) {
				return fmt.Errorf("refresh failed: %s", failure)
			}
			expiresAt, _ := client.Sessions().ExpiresAt()
			fmt.Fprintf(cmd.OutOrStdout(), "Tokens renewed, valid until %s\n", time.UnixMilli(expiresAt).Format(time.RFC3339))
			return nil
		},
	}
}

func newWhoamiCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Fetch the signed in user's profile from the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			user, err := client.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", displayName(*user), user.Email)
			return nil
		},
	}
}

func newLogoutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and remove it from storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Logout(cmd.Context()); err != nil {
				log.Warn().Err(err).Msg("backend did not confirm logout")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the session fresh until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.displayAppname(cmd)
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			cfg.Refresh.AutoRefresh = true

			expired := make(chan struct{}, 1)
			client, err := auth.New(cfg, auth.WithLogger(log.Logger), auth.WithCallbacks(refresh.Callbacks{
				OnRefreshSuccess: func(r session.Record) {
					log.Info().Time("expires_at", r.Session.Expiry()).Msg("tokens renewed")
				},
				OnRefreshError: func(message string) {
					log.Warn().Str("error", message).Msg("refresh attempt failed")
				},
				OnSessionExpired: func() {
					select {
					case expired <- struct{}{}:
					default:
					}
				},
			}))
			if err != nil {
				return err
			}
			defer client.Close()

			if !client.IsAuthenticated() {
				return auth.ErrNoSession
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			client.Start(ctx)
			log.Info().Dur("interval", cfg.Refresh.Interval).Msg("watching session")

			select {
			case <-ctx.Done():
				return nil
			case <-expired:
				return auth.ErrSessionExpired
			}
		},
	}
}

func printStatus(w io.Writer, record *session.Record) {
	sess := record.Session
	fmt.Fprintf(w, "User:       %s <%s>\n", displayName(record.User), record.User.Email)
	fmt.Fprintf(w, "Session:    %s\n", sess.ID)
	if sess.Provider != "" {
		fmt.Fprintf(w, "Provider:   %s\n", sess.Provider)
	}
	fmt.Fprintf(w, "Expires:    %s (in %s)\n", sess.Expiry().Format(time.RFC3339), time.Until(sess.Expiry()).Round(time.Second))
	if subject, ok := token.Subject(sess.AccessToken); ok {
		fmt.Fprintf(w, "Subject:    %s\n", subject)
	}
	if issued, ok := token.IssuedAt(sess.AccessToken); ok {
		fmt.Fprintf(w, "Issued:     %s\n", issued.Format(time.RFC3339))
	}
	if _, ok := token.ExpirationTime(sess.AccessToken); ok {
		fmt.Fprintf(w, "Expired:    %t\n", token.IsExpired(sess.AccessToken))
	}
}

func displayName(u session.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
