package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fivetwenty-io/apiclient/internal/config"
	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/internal/logging"
	"github.com/fivetwenty-io/apiclient/internal/metrics"
	"github.com/fivetwenty-io/apiclient/pkg/restclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// BuildInfo describes the binary.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// app carries state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
}

// flagBindings maps persistent flags onto configuration keys.
var flagBindings = map[string]string{
	"base-url":      "base_url",
	"grant":         "grant",
	"client-id":     "client_id",
	"client-secret": "client_secret",
	"username":      "username",
	"cache-mode":    "cache_mode",
	"cache-type":    "cache.type",
	"output":        "output",
	"verbose":       "http.debug",
	"log-level":     "log.level",
}

// NewRootCommand creates the apiclient command tree.
func NewRootCommand(info BuildInfo) *cobra.Command {
	a := &app{v: config.NewViper()}

	rootCmd := &cobra.Command{
		Use:   "apiclient",
		Short: "OAuth2 REST API client",
		Long: `A command-line interface for REST APIs protected by OAuth2.

Tokens are obtained and refreshed automatically. Responses and tokens can be
cached in memory, Redis, NATS or PostgreSQL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.ReadFile(a.v, a.cfgFile)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is $HOME/.apiclient/config.yml)")
	flags.StringP("base-url", "a", "", "API base URL")
	flags.String("grant", "", "OAuth2 grant (client_credentials, password)")
	flags.String("client-id", "", "OAuth2 client ID")
	flags.String("client-secret", "", "OAuth2 client secret")
	flags.StringP("username", "u", "", "username for the password grant")
	flags.String("cache-mode", "", "cache mode (none, get, token, all, refresh)")
	flags.String("cache-type", "", "cache backend (memory, redis, nats, postgres, none, chain)")
	flags.StringP("output", "o", constants.FormatTable, "output format (table, json, yaml)")
	flags.BoolP("verbose", "v", false, "log HTTP requests and responses")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	for flag, key := range flagBindings {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(NewVersionCommand(a, info))
	rootCmd.AddCommand(NewIndexCommand(a))
	rootCmd.AddCommand(NewGetCommand(a))
	rootCmd.AddCommand(NewPostCommand(a))
	rootCmd.AddCommand(NewPutCommand(a))
	rootCmd.AddCommand(NewDeleteCommand(a))
	rootCmd.AddCommand(NewTokenCommand(a))
	rootCmd.AddCommand(NewCacheCommand(a))
	rootCmd.AddCommand(NewConfigCommand(a))

	return rootCmd
}

// loadConfig prompts for a missing password when possible, then loads and
// validates the configuration.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if a.v.GetString("grant") == constants.GrantPassword && a.v.GetString("password") == "" {
		password, err := readPassword(cmd)
		if err != nil {
			return nil, err
		}

		a.v.Set("password", password)
	}

	return config.Load(a.v)
}

func readPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // file descriptors fit in int
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("reading password: %w", constants.ErrNotATerminal)
	}

	_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Password: ")

	password, err := term.ReadPassword(fd)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	_, _ = fmt.Fprintln(cmd.ErrOrStderr())

	return string(password), nil
}

// session is a configured client plus the resources serving it.
type session struct {
	cfg    *config.Config
	client *restclient.Client
	server *http.Server
}

// newSession loads the configuration and builds a client. Callers must
// close the session.
func (a *app) newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		return nil, err
	}

	if cfg.Log.Level != "" || cfg.HTTP.Debug {
		level := cfg.Log.Level
		if cfg.HTTP.Debug {
			level = "debug"
		}

		logger, err := logging.New(logging.Config{Level: level, Format: cfg.Log.Format})
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}

		clientConfig.Logger = logger
	}

	s := &session{cfg: cfg}

	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		clientConfig.Registerer = registry
		s.server = serveMetrics(cmd, cfg.Metrics.Addr, registry)
	}

	s.client, err = restclient.New(cmd.Context(), clientConfig)
	if err != nil {
		s.Close()

		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return s, nil
}

// serveMetrics exposes registry while the command runs.
func serveMetrics(cmd *cobra.Command, addr string, registry *prometheus.Registry) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           metrics.Handler(registry),
		ReadHeaderTimeout: constants.ShortHTTPTimeout,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: metrics endpoint stopped: %v\n", err)
		}
	}()

	return server
}

// Close releases the client and stops the metrics endpoint.
func (s *session) Close() {
	if s.client != nil {
		_ = s.client.Close()
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = s.server.Shutdown(ctx)
	}
}
