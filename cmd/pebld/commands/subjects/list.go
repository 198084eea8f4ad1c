package subjects

import (
	"github.com/marmos91/pebld/internal/cli/output"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List subjects",
	Long: `List every subject under the storage root with the number of stored
files, their total size, the number of journal entries and the time of the
newest upload.

Examples:
  pebld subjects list
  pebld subjects list --root /srv/uploads -o json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	p, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cmd)
	if err != nil {
		return err
	}

	summaries, err := store.ListSubjects()
	if err != nil {
		return err
	}
	if len(summaries) == 0 && p.Format() == output.FormatTable {
		p.Println("No subjects found")
		return nil
	}
	return p.Print(summaryTable(summaries))
}
