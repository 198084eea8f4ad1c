// Package subjects implements the commands that inspect stored uploads.
//
// They read the per-subject journals straight from the storage root, so
// they work whether or not the server is running.
package subjects

import (
	"fmt"
	"os"

	"github.com/marmos91/pebld/internal/cli/output"
	"github.com/marmos91/pebld/pkg/config"
	"github.com/marmos91/pebld/pkg/subject"
	"github.com/spf13/cobra"
)

var (
	rootDir      string
	outputFormat string
)

// Cmd is the subjects subcommand.
var Cmd = &cobra.Command{
	Use:     "subjects",
	Aliases: []string{"subject"},
	Short:   "Inspect stored uploads",
	Long: `Inspect the subjects under the storage root and their journals.

The storage root comes from the configuration file unless --root is given.

Subcommands:
  list      List subjects with file counts and sizes
  show      Summarize one subject
  entries   Print a subject's journal
  tail      Print the newest journal entries, optionally following new ones`,
}

func init() {
	Cmd.PersistentFlags().StringVar(&rootDir, "root", "", "Storage root (default: storage.root from the configuration)")
	Cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table|json|yaml)")

	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(entriesCmd)
	Cmd.AddCommand(tailCmd)
}

// openStore resolves the storage root and opens it. A missing root is an
// error: inspecting uploads never creates directories.
func openStore(cmd *cobra.Command) (*subject.Store, error) {
	root := rootDir
	if root == "" {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.MustLoad(path)
		if err != nil {
			return nil, err
		}
		root = cfg.Storage.Root
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("storage root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", root)
	}
	return subject.NewStore(root)
}

func newPrinter(cmd *cobra.Command) (*output.Printer, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(cmd.OutOrStdout(), format, false), nil
}

// summaryTable renders subject summaries.
type summaryTable []subject.Summary

func (t summaryTable) Headers() []string {
	return []string{"CODE", "FILES", "SIZE", "ENTRIES", "LAST UPLOAD"}
}

func (t summaryTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, s := range t {
		rows = append(rows, []string{
			s.Code,
			output.Count(s.Files),
			output.Bytes(s.Bytes),
			output.Count(s.Entries),
			output.Ago(s.LastUpload),
		})
	}
	return rows
}

// entryTable renders journal entries.
type entryTable []subject.Entry

func (t entryTable) Headers() []string {
	return []string{"TIME", "SUBJECT", "FILE", "ADDRESS"}
}

func (t entryTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, e := range t {
		rows = append(rows, []string{output.Timestamp(e.Time), e.Subject, e.File, e.Address})
	}
	return rows
}

// lastN returns the newest n entries in journal order. n <= 0 means all.
func lastN(entries []subject.Entry, n int) []subject.Entry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
