//go:build e2e

package e2e

import (
	"os"
	"os/signal"
	"syscall"
	"testing"

	"github.com/marmos91/pebld/test/e2e/helpers"
)

// TestMain removes the test build of pebld when the run ends or is
// interrupted.
func TestMain(m *testing.M) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		helpers.Cleanup()
		os.Exit(1)
	}()

	code := m.Run()
	helpers.Cleanup()
	os.Exit(code)
}
