//go:build e2e

package helpers

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
)

var (
	buildOnce   sync.Once
	builtBinary string
	buildErr    error
	buildOutput []byte
)

// FindPebldBinary returns the pebld binary to test: $PEBLD_BINARY when set,
// otherwise a build of ./cmd/pebld shared by the whole test run.
func FindPebldBinary(t *testing.T) string {
	t.Helper()

	if path := os.Getenv("PEBLD_BINARY"); path != "" {
		return path
	}

	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "pebld-e2e-")
		if err != nil {
			buildErr = err
			return
		}
		builtBinary = filepath.Join(dir, "pebld")
		cmd := exec.Command("go", "build", "-o", builtBinary, "./cmd/pebld/")
		cmd.Dir = findProjectRoot(t)
		buildOutput, buildErr = cmd.CombinedOutput()
	})
	if buildErr != nil {
		t.Fatalf("Failed to build pebld: %v\n%s", buildErr, buildOutput)
	}
	return builtBinary
}

// Cleanup removes the binary built by FindPebldBinary, if any.
func Cleanup() {
	if builtBinary != "" {
		_ = os.RemoveAll(filepath.Dir(builtBinary))
	}
}

// RunCLI runs a pebld subcommand with the given config file and returns its
// combined output.
func RunCLI(t *testing.T, configFile string, args ...string) ([]byte, error) {
	t.Helper()
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	cmd := exec.Command(FindPebldBinary(t), args...)
	return cmd.CombinedOutput()
}

// RunCLIStdout is RunCLI without stderr, for commands whose output is parsed.
func RunCLIStdout(t *testing.T, configFile string, args ...string) ([]byte, error) {
	t.Helper()
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	cmd := exec.Command(FindPebldBinary(t), args...)
	cmd.Stderr = nil
	return cmd.Output()
}

// findProjectRoot locates the project root by looking for go.mod.
func findProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("Could not find project root (go.mod not found)")
		}
		dir = parent
	}
}
