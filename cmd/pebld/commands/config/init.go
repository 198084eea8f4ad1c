package config

import (
	"fmt"
	"os"

	"github.com/marmos91/pebld/internal/cli/prompt"
	"github.com/marmos91/pebld/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Write a pebld configuration file holding every default value.

By default, the configuration file is created at $XDG_CONFIG_HOME/pebld/config.yaml.
Use --config to specify a custom path. An existing file is only replaced
after confirmation, or with --force.

Examples:
  # Initialize with default location
  pebld config init

  # Initialize with custom path
  pebld config init --config /etc/pebld/config.yaml

  # Overwrite existing config without asking
  pebld config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file without asking")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	target := path
	if target == "" {
		target = config.GetDefaultConfigPath()
	}

	force := initForce
	if !force {
		if _, err := os.Stat(target); err == nil {
			ok, err := prompt.Confirm(fmt.Sprintf("%s already exists. Overwrite", target), false)
			if err != nil {
				if prompt.IsAborted(err) {
					return nil
				}
				return err
			}
			if !ok {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Keeping existing configuration")
				return nil
			}
			force = true
		}
	}

	var err error
	if path != "" {
		err = config.InitConfigToPath(path, force)
	} else {
		target, err = config.InitConfig(force)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", target)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Set storage.root to the directory uploads should land in")
	_, _ = fmt.Fprintln(out, "  2. Start the server with: pebld start")
	_, _ = fmt.Fprintf(out, "  3. Or specify custom config: pebld start --config %s\n", target)
	return nil
}
