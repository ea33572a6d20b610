package main

import (
	"fmt"
	"os"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const appName = "authctl"

// globalFlags override the AUTH_* environment for one invocation.
type globalFlags struct {
	baseURL  string
	storage  string
	driver   string
	path     string
	prefix   string
	debug    bool
	noBanner bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Sign in to an identity backend and keep the session fresh",
		Long: `authctl runs the authorization code flow against an identity backend from a
terminal, stores the resulting session and keeps its tokens renewed.

Configuration comes from AUTH_* environment variables; the flags below
override them for a single run. Sessions are kept in durable storage by
default so that later invocations see them.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(flags.debug)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.baseURL, "base-url", "", "identity backend base URL (AUTH_BASE_URL)")
	pf.StringVar(&flags.storage, "storage", "", "storage type: durable, tab or cookie (AUTH_STORAGE_TYPE)")
	pf.StringVar(&flags.driver, "driver", "", "durable driver: file, sqlite or redis (AUTH_STORAGE_DRIVER)")
	pf.StringVar(&flags.path, "path", "", "file or sqlite location (AUTH_STORAGE_PATH)")
	pf.StringVar(&flags.prefix, "prefix", "", "storage key prefix (AUTH_STORAGE_PREFIX)")
	pf.BoolVar(&flags.debug, "debug", false, "enable debug logging")
	pf.BoolVar(&flags.noBanner, "no-banner", false, "do not print the banner")

	cmd.AddCommand(
		newLoginCmd(flags),
		newStatusCmd(flags),
		newRefreshCmd(flags),
		newWhoamiCmd(flags),
		newLogoutCmd(flags),
		newWatchCmd(flags),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute(version string) {
	cmd := newRootCmd()
	cmd.Version = version
	cmd.SetVersionTemplate(`{{printf "authctl version %s\n" .Version}}`)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

// loadConfig resolves the environment, then applies flags. Without an
// explicit storage type the CLI keeps sessions durably.
func (f *globalFlags) loadConfig() (config.Config, error) {
	cfg := config.FromEnv()
	if os.Getenv("AUTH_STORAGE_TYPE") == "" {
		cfg.Storage.Type = config.StorageDurable
	}
	if f.baseURL != "" {
		cfg.BaseURL = f.baseURL
	}
	if f.storage != "" {
		cfg.Storage.Type = config.ParseStorageType(f.storage)
	}
	if f.driver != "" {
		cfg.Storage.Driver = config.DurableDriver(f.driver)
	}
	if f.path != "" {
		cfg.Storage.Path = f.path
	}
	if f.prefix != "" {
		cfg.Storage.Prefix = f.prefix
	}
	return cfg, cfg.Validate()
}

func (f *globalFlags) newClient(opts ...auth.Option) (*auth.Client, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	return auth.New(cfg, append([]auth.Option{auth.WithLogger(log.Logger)}, opts...)...)
}

func (f *globalFlags) displayAppname(cmd *cobra.Command) {
	if f.noBanner {
		return
	}
	myFigure := figure.NewFigure(appName, "cybermedium", true)
	fmt.Fprintln(cmd.ErrOrStderr(), myFigure.String())
}
