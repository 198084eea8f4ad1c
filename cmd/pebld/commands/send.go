package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/pebld/internal/cli/output"
	proto "github.com/marmos91/pebld/internal/protocol/upload"
	"github.com/marmos91/pebld/pkg/adapter/upload"
	"github.com/spf13/cobra"
)

var (
	sendAddr      string
	sendName      string
	sendCompanion string
	sendTimeout   time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send FILE",
	Short: "Upload a file to a pebld server",
	Long: `Upload FILE to a running pebld server and print the acknowledgement.

Every submission carries two payloads. The first is FILE, stored under the
requested name; the second is the companion, stored next to it without the
.csv extension. Without --companion an empty companion is sent.

The requested name defaults to the base name of FILE. Its prefix up to the
first underscore selects the subject directory.

Examples:
  # Upload to a local server
  pebld send A1_results.csv

  # Upload with a companion file under a different name
  pebld send data.csv --name B7_run.csv --companion data.meta

  # Upload to a remote server
  pebld send A1_results.csv --addr uploads.example.com:12345`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendAddr, "addr", "a", fmt.Sprintf("127.0.0.1:%d", upload.DefaultPort), "Server address (host:port)")
	sendCmd.Flags().StringVarP(&sendName, "name", "n", "", "Requested filename (default: base name of FILE)")
	sendCmd.Flags().StringVar(&sendCompanion, "companion", "", "File to send as the companion payload")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 30*time.Second, "Give up after this long (0 disables)")
}

func runSend(cmd *cobra.Command, args []string) error {
	sub, err := buildSubmission(args[0], sendName, sendCompanion)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sendTimeout)
		defer cancel()
	}

	start := time.Now()
	ack, err := proto.Dial(ctx, sendAddr, sub)
	if err != nil {
		return fmt.Errorf("upload to %s failed: %w", sendAddr, err)
	}

	p := output.NewPrinter(cmd.OutOrStdout(), output.FormatTable, false)
	p.Printf("Sent %s (%s + %s companion) to %s in %s\n",
		sub.Filename,
		output.Bytes(len(sub.Slots[0])),
		output.Bytes(len(sub.Slots[1])),
		sendAddr,
		time.Since(start).Round(time.Millisecond))
	p.Println(ack)
	return nil
}

// buildSubmission reads the payload files and checks that name can be
// framed before anything is dialled.
func buildSubmission(path, name, companion string) (proto.Submission, error) {
	var sub proto.Submission

	if name == "" {
		name = filepath.Base(path)
	}
	if _, err := proto.EncodeFilenameFrame(name); err != nil {
		return sub, err
	}
	sub.Filename = name

	data, err := os.ReadFile(path)
	if err != nil {
		return sub, fmt.Errorf("failed to read %s: %w", path, err)
	}
	sub.Slots[0] = data

	if companion != "" {
		data, err := os.ReadFile(companion)
		if err != nil {
			return sub, fmt.Errorf("failed to read companion %s: %w", companion, err)
		}
		sub.Slots[1] = data
	}
	return sub, nil
}
