// Package commands implements the pebld command line.
package commands

import (
	"github.com/marmos91/pebld/cmd/pebld/commands/config"
	"github.com/marmos91/pebld/cmd/pebld/commands/subjects"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "pebld",
	Short: "pebld - TCP upload server",
	Long: `pebld accepts file submissions over a small framed TCP protocol and
stores them per subject, journaling every stored file in the subject's
logging file.

Use "pebld [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/pebld/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(subjects.Cmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
