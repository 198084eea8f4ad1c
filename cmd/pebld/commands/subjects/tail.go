package subjects

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/pebld/pkg/subject"
	"github.com/spf13/cobra"
)

var (
	tailLines  int
	tailFollow bool
)

var tailCmd = &cobra.Command{
	Use:   "tail CODE",
	Short: "Print the newest journal entries",
	Long: `Print the newest entries of a subject's logging file. With --follow,
keep printing entries as uploads are journaled until interrupted.

In follow mode JSON output is one compact object per line.

Examples:
  # Last 10 entries
  pebld subjects tail A1

  # Watch uploads for subject A1
  pebld subjects tail A1 -f

  # Stream entries as JSON lines
  pebld subjects tail A1 -f -n 0 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runTail,
}

func init() {
	tailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of entries to show first")
	tailCmd.Flags().BoolVarP(&tailFollow, "follow", "f", false, "Follow new entries")
}

func runTail(cmd *cobra.Command, args []string) error {
	p, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	code := args[0]

	if !tailFollow {
		entries, err := readJournal(store, code)
		if err != nil {
			return err
		}
		if tailLines == 0 {
			return nil
		}
		return p.Print(entryTable(lastN(entries, tailLines)))
	}

	// Open the follower first so nothing written between the initial read
	// and the watch is lost. Entries appended in that window are printed
	// twice at worst.
	f, err := newJournalFollower(store.LogPath(code))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("subject %q not found under %s", code, store.Root())
		}
		return err
	}
	defer func() { _ = f.Close() }()

	entries, err := readJournal(store, code)
	if err != nil {
		return err
	}
	if tailLines != 0 {
		for _, e := range lastN(entries, tailLines) {
			if err := p.PrintStream(entryTable{e}); err != nil {
				return err
			}
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Following %s (Ctrl+C to stop)...\n", store.LogPath(code))
	return f.Run(ctx, func(e subject.Entry) error {
		return p.PrintStream(entryTable{e})
	})
}

// journalFollower reports rows appended to a journal after it was opened.
type journalFollower struct {
	path    string
	watcher *fsnotify.Watcher
	file    *os.File
	reader  *bufio.Reader
	partial []byte
}

func newJournalFollower(path string) (*journalFollower, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to seek to end of journal: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		_ = file.Close()
		return nil, fmt.Errorf("failed to watch journal: %w", err)
	}

	return &journalFollower{
		path:    path,
		watcher: watcher,
		file:    file,
		reader:  bufio.NewReader(file),
	}, nil
}

// Run calls fn for every complete row appended to the journal until ctx is
// done, the journal is removed, or fn fails.
func (f *journalFollower) Run(ctx context.Context, fn func(subject.Entry) error) error {
	// Rows appended before the watch was registered.
	if err := f.drain(fn); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-f.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return fmt.Errorf("journal %s was removed", f.path)
			}
			if event.Has(fsnotify.Write) {
				if err := f.drain(fn); err != nil {
					return err
				}
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

// drain decodes every complete line available and keeps a trailing
// partial line for the next write.
func (f *journalFollower) drain(fn func(subject.Entry) error) error {
	var lines bytes.Buffer
	for {
		chunk, err := f.reader.ReadBytes('\n')
		if len(chunk) > 0 {
			f.partial = append(f.partial, chunk...)
			if chunk[len(chunk)-1] == '\n' {
				lines.Write(f.partial)
				f.partial = f.partial[:0]
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read journal: %w", err)
		}
	}
	if lines.Len() == 0 {
		return nil
	}

	entries, err := subject.DecodeLog(&lines)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (f *journalFollower) Close() error {
	werr := f.watcher.Close()
	if err := f.file.Close(); err != nil {
		return err
	}
	return werr
}
