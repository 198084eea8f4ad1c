package subjects

import (
	"errors"
	"fmt"

	"github.com/marmos91/pebld/pkg/subject"
	"github.com/spf13/cobra"
)

var entriesLimit int

var entriesCmd = &cobra.Command{
	Use:   "entries CODE",
	Short: "Print a subject's journal",
	Long: `Print the entries of a subject's logging file in the order they were
written. Every upload writes two entries, one per stored file, both naming
the primary file.

Examples:
  # Whole journal
  pebld subjects entries A1

  # Newest 20 entries as JSON
  pebld subjects entries A1 -n 20 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runEntries,
}

func init() {
	entriesCmd.Flags().IntVarP(&entriesLimit, "lines", "n", 0, "Show only the newest N entries (0 shows all)")
}

func runEntries(cmd *cobra.Command, args []string) error {
	p, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cmd)
	if err != nil {
		return err
	}

	entries, err := readJournal(store, args[0])
	if err != nil {
		return err
	}
	return p.Print(entryTable(lastN(entries, entriesLimit)))
}

func readJournal(store *subject.Store, code string) ([]subject.Entry, error) {
	entries, err := store.ReadLog(code)
	if errors.Is(err, subject.ErrNotFound) {
		return nil, fmt.Errorf("subject %q not found under %s", code, store.Root())
	}
	return entries, err
}
