package main

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/tariff-map/internal/config"
)

var configValidate string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration as YAML with secrets masked",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if configValidate != "" {
			if err := cfg.Validate(configValidate); err != nil {
				return err
			}
		}
		return writeConfig(cmd.OutOrStdout(), cfg)
	},
}

func writeConfig(out io.Writer, c *config.Config) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return eris.Wrap(err, "encode config")
	}
	return eris.Wrap(enc.Close(), "flush config")
}

func init() {
	configShowCmd.Flags().StringVar(&configValidate, "validate", "", "also validate for a mode (map, serve, database)")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
