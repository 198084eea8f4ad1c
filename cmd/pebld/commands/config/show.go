package config

import (
	"github.com/marmos91/pebld/internal/cli/output"
	"github.com/marmos91/pebld/pkg/config"
	"github.com/spf13/cobra"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective pebld configuration: the file, environment
overrides and defaults merged.

By default outputs YAML format. Use --output to change format.

Examples:
  # Show default config as YAML
  pebld config show

  # Show as JSON
  pebld config show --output json

  # See what an environment override does
  PEBLD_SERVER_PORT=2000 pebld config show`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(configPath(cmd))
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	default:
		return output.PrintYAML(cmd.OutOrStdout(), cfg)
	}
}
