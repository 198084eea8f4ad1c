//go:build !windows

package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestIsProcessRunning_NonexistentFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "nonexistent.pid")

	pid, running := isProcessRunning(pidPath)
	if running || pid != 0 {
		t.Errorf("isProcessRunning() for nonexistent file: got (%d, %v), want (0, false)", pid, running)
	}
}

func TestIsProcessRunning_InvalidPID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "invalid.pid")
	if err := os.WriteFile(pidPath, []byte("notanumber"), 0644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}

	pid, running := isProcessRunning(pidPath)
	if running || pid != 0 {
		t.Errorf("isProcessRunning() for invalid PID: got (%d, %v), want (0, false)", pid, running)
	}
}

func TestIsProcessRunning_CurrentProcess(t *testing.T) {
	currentPID := os.Getpid()
	pidPath := filepath.Join(t.TempDir(), "current.pid")
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", currentPID)), 0644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}

	pid, running := isProcessRunning(pidPath)
	if !running || pid != currentPID {
		t.Errorf("isProcessRunning() for current process: got (%d, %v), want (%d, true)", pid, running, currentPID)
	}
}

func TestReadPidFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{"plain", "42", 42, false},
		{"trailing newline", "42\n", 42, false},
		{"zero", "0", 0, true},
		{"negative", "-7", 0, true},
		{"garbage", "pid=42", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".pid")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write pid file: %v", err)
			}
			got, err := readPidFile(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("readPidFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("readPidFile() = %d, want %d", got, tt.want)
			}
		})
	}
}
