package commands

import (
	"fmt"

	"github.com/fivetwenty-io/apiclient/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  "Create and inspect the apiclient configuration file",
	}

	cmd.AddCommand(newConfigInitCommand(a))
	cmd.AddCommand(newConfigShowCommand(a))

	return cmd
}

func newConfigInitCommand(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starting configuration file",
		Long:  "Write a starting configuration file to --config or $HOME/.apiclient/config.yml",
		Args:  cobra.NoArgs,
		// The file may not exist yet.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			persister := config.NewPersister(a.cfgFile)
			if a.cfgFile == "" {
				var err error

				persister, err = a.persister()
				if err != nil {
					return err
				}
			}

			err := persister.WriteSample(config.Sample(), force)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", persister.Path())

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}

func newConfigShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v)
			if err != nil {
				return err
			}

			// The configuration is always shown in its file format.
			encoder := yaml.NewEncoder(cmd.OutOrStdout())
			defer encoder.Close()

			return encoder.Encode(cfg.Masked())
		},
	}
}
