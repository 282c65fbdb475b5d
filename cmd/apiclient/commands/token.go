package commands

import (
	"fmt"
	"path/filepath"

	"github.com/fivetwenty-io/apiclient/internal/config"
	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/spf13/cobra"
)

// NewTokenCommand creates the token command.
func NewTokenCommand(a *app) *cobra.Command {
	var (
		show bool
		save bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Obtain an access token",
		Long:  "Obtain an access token with the configured credentials, optionally saving it to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, nil, func(s *session) error {
				err := s.client.Authenticate(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to authenticate: %w", err)
				}

				accessToken, refreshToken := s.client.Tokens()

				if save {
					persister, err := a.persister()
					if err != nil {
						return err
					}

					err = persister.UpdateTokens(accessToken, refreshToken)
					if err != nil {
						return err
					}

					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Tokens saved to %s\n", persister.Path())
				}

				if !show {
					accessToken = mask(accessToken)
					refreshToken = mask(refreshToken)
				}

				return render(cmd.OutOrStdout(), s.cfg.Output, map[string]any{
					"grant":         s.cfg.Grant,
					"access_token":  accessToken,
					"refresh_token": refreshToken,
				}, nil)
			})
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "print tokens in clear text")
	cmd.Flags().BoolVar(&save, "save", false, "store the tokens in the config file")

	return cmd
}

func mask(secret string) string {
	if secret == "" {
		return constants.NotAvailable
	}

	return constants.MaskedSecret
}

// persister writes the config file in use, or the default one.
func (a *app) persister() (*config.Persister, error) {
	path := a.v.ConfigFileUsed()
	if path == "" {
		dir, err := config.DefaultDir()
		if err != nil {
			return nil, err
		}

		path = filepath.Join(dir, "config.yml")
	}

	return config.NewPersister(path), nil
}
