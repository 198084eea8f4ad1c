package config

import (
	"fmt"

	"github.com/marmos91/pebld/internal/cli/output"
	"github.com/marmos91/pebld/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the pebld configuration file.

Checks for syntax errors, missing required fields, invalid values and
ports shared by two listeners.

Examples:
  # Validate default config
  pebld config validate

  # Validate specific config file
  pebld config validate --config /etc/pebld/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}

	displayPath := path
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
		if !config.DefaultConfigExists() {
			displayPath = "(defaults)"
		}
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := configWarnings(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintln(out, "\nConfiguration summary:")
	return output.SimpleTable(out, summaryPairs(cfg))
}

// configWarnings flags settings that are valid but probably unintended.
func configWarnings(cfg *config.Config) []string {
	var warnings []string
	if cfg.Server.MaxPayloadSize == 0 {
		warnings = append(warnings, "server.max_payload_size is 0: declared payload lengths are not capped")
	}
	if cfg.Server.IdleTimeout == 0 {
		warnings = append(warnings, "server.idle_timeout is 0: stalled clients hold their subject lock forever")
	}
	if cfg.Storage.Root == "." {
		warnings = append(warnings, "storage.root is the working directory: uploads land wherever pebld is started")
	}
	return warnings
}

func summaryPairs(cfg *config.Config) [][2]string {
	maxPayload := "unlimited"
	if cfg.Server.MaxPayloadSize > 0 {
		maxPayload = cfg.Server.MaxPayloadSize.String()
	}
	catalog := "disabled"
	if cfg.Catalog.Enabled {
		catalog = cfg.CatalogPath()
	}
	metrics := "disabled"
	if cfg.Metrics.Enabled {
		metrics = fmt.Sprintf("port %d", cfg.Metrics.Port)
	}
	api := "disabled"
	if cfg.API.IsEnabled() {
		api = fmt.Sprintf("port %d", cfg.API.Port)
	}

	return [][2]string{
		{"Upload listener", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)},
		{"Max payload", maxPayload},
		{"Storage root", cfg.Storage.Root},
		{"Catalog", catalog},
		{"Metrics", metrics},
		{"API", api},
		{"Log level", cfg.Logging.Level},
	}
}
