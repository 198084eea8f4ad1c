package subjects

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/marmos91/pebld/internal/cli/output"
	"github.com/marmos91/pebld/pkg/subject"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show CODE",
	Short: "Summarize one subject",
	Long: `Summarize one subject: stored files, total size, journal entries and
the newest upload.

Examples:
  pebld subjects show A1
  pebld subjects show A1 -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	p, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cmd)
	if err != nil {
		return err
	}

	sum, err := store.Summarize(args[0])
	if err != nil {
		if errors.Is(err, subject.ErrNotFound) {
			return fmt.Errorf("subject %q not found under %s", args[0], store.Root())
		}
		return err
	}

	if p.Format() != output.FormatTable {
		return p.Print(sum)
	}
	return output.SimpleTable(p.Writer(), [][2]string{
		{"Subject", sum.Code},
		{"Directory", filepath.Join(store.Root(), sum.Code)},
		{"Files", output.Count(sum.Files)},
		{"Size", output.Bytes(sum.Bytes)},
		{"Entries", output.Count(sum.Entries)},
		{"Last upload", output.Timestamp(sum.LastUpload)},
	})
}
