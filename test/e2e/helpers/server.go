//go:build e2e

package helpers

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

// ServerProcess manages a pebld server subprocess for E2E testing.
type ServerProcess struct {
	cmd           *exec.Cmd
	process       *os.Process
	pidFile       string
	logFile       string
	configFile    string
	storageRoot   string
	uploadPort    int
	apiPort       int
	metricsPort   int
	logFileHandle *os.File
	exited        chan struct{}
}

// Response mirrors the API envelope.
type Response struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// FindFreePort finds an available TCP port by binding to :0 and reading the
// assigned port.
func FindFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	defer func() { _ = listener.Close() }()

	return listener.Addr().(*net.TCPAddr).Port
}

// StartServerProcess starts pebld in foreground mode on free ports with the
// storage root, catalog and state files under t.TempDir(). It waits until
// /health/ready answers 200.
func StartServerProcess(t *testing.T) *ServerProcess {
	t.Helper()

	stateDir := t.TempDir()
	sp := &ServerProcess{
		pidFile:     filepath.Join(stateDir, "pebld.pid"),
		logFile:     filepath.Join(stateDir, "pebld.log"),
		configFile:  filepath.Join(stateDir, "config.yaml"),
		storageRoot: filepath.Join(stateDir, "uploads"),
		uploadPort:  FindFreePort(t),
		apiPort:     FindFreePort(t),
		metricsPort: FindFreePort(t),
		exited:      make(chan struct{}),
	}

	if err := os.MkdirAll(sp.storageRoot, 0755); err != nil {
		t.Fatalf("Failed to create storage root: %v", err)
	}
	sp.writeConfig(t)

	sp.cmd = exec.Command(FindPebldBinary(t), "start", "--foreground",
		"--config", sp.configFile,
		"--pid-file", sp.pidFile)

	logFileHandle, err := os.OpenFile(sp.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("Failed to create log file: %v", err)
	}
	sp.logFileHandle = logFileHandle
	sp.cmd.Stdout = logFileHandle
	sp.cmd.Stderr = logFileHandle

	if err := sp.cmd.Start(); err != nil {
		_ = logFileHandle.Close()
		t.Fatalf("Failed to start pebld: %v", err)
	}
	sp.process = sp.cmd.Process

	go func() {
		_ = sp.cmd.Wait()
		close(sp.exited)
	}()

	t.Cleanup(sp.ForceKill)

	if err := sp.WaitReady(10 * time.Second); err != nil {
		sp.DumpLogs(t)
		t.Fatalf("Server failed to become ready: %v", err)
	}
	return sp
}

func (sp *ServerProcess) writeConfig(t *testing.T) {
	t.Helper()

	content := fmt.Sprintf(`logging:
  level: DEBUG
  format: json
  output: stdout
shutdown_timeout: 5s
server:
  bind_address: 127.0.0.1
  port: %d
  idle_timeout: 10s
storage:
  root: %s
catalog:
  enabled: true
metrics:
  enabled: true
  port: %d
api:
  enabled: true
  port: %d
`, sp.uploadPort, sp.storageRoot, sp.metricsPort, sp.apiPort)

	if err := os.WriteFile(sp.configFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

// WaitReady polls /health/ready until it answers 200 or timeout elapses.
func (sp *ServerProcess) WaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 500 * time.Millisecond}
	url := sp.APIURL() + "/health/ready"

	var lastErr error
	for time.Now().Before(deadline) {
		select {
		case <-sp.exited:
			return fmt.Errorf("server exited before becoming ready")
		default:
		}

		resp, err := client.Get(url)
		if err != nil {
			lastErr = err
			time.Sleep(100 * time.Millisecond)
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			return nil
		}
		lastErr = fmt.Errorf("readiness check returned %d: %s", resp.StatusCode, string(body))
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v: %w", timeout, lastErr)
}

// Get performs a GET against the API and decodes the envelope.
func (sp *ServerProcess) Get(path string) (int, *Response, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(sp.APIURL() + path)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, &out, nil
}

// Metrics returns the Prometheus exposition text.
func (sp *ServerProcess) Metrics() (string, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", sp.metricsPort))
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	return string(body), err
}

// SendSignal sends a signal to the server process.
func (sp *ServerProcess) SendSignal(sig syscall.Signal) error {
	if sp.process == nil {
		return fmt.Errorf("no process to signal")
	}
	return sp.process.Signal(sig)
}

// WaitForExit waits for the process to exit within the timeout.
func (sp *ServerProcess) WaitForExit(timeout time.Duration) error {
	select {
	case <-sp.exited:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("process did not exit within %v", timeout)
	}
}

// StopGracefully sends SIGTERM and waits for a clean exit.
func (sp *ServerProcess) StopGracefully() error {
	if err := sp.SendSignal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}
	if err := sp.WaitForExit(10 * time.Second); err != nil {
		return err
	}
	if code := sp.cmd.ProcessState.ExitCode(); code != 0 {
		return fmt.Errorf("server exited with code %d", code)
	}
	return nil
}

// ForceKill terminates the server: SIGTERM first, SIGKILL after 2 seconds.
func (sp *ServerProcess) ForceKill() {
	if sp.process == nil {
		return
	}

	select {
	case <-sp.exited:
	default:
		_ = sp.process.Signal(syscall.SIGTERM)
		select {
		case <-sp.exited:
		case <-time.After(2 * time.Second):
			_ = sp.process.Kill()
			<-sp.exited
		}
	}

	if sp.logFileHandle != nil {
		_ = sp.logFileHandle.Close()
		sp.logFileHandle = nil
	}
}

// ProcessRunning checks if the server process is still running.
func (sp *ServerProcess) ProcessRunning() bool {
	select {
	case <-sp.exited:
		return false
	default:
		return sp.process != nil
	}
}

func (sp *ServerProcess) UploadAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", sp.uploadPort)
}

func (sp *ServerProcess) APIURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", sp.apiPort)
}

func (sp *ServerProcess) StorageRoot() string { return sp.storageRoot }

func (sp *ServerProcess) ConfigFile() string { return sp.configFile }

func (sp *ServerProcess) PidFile() string { return sp.pidFile }

func (sp *ServerProcess) LogFile() string { return sp.logFile }

// DumpLogs prints the server log to help debug failures.
func (sp *ServerProcess) DumpLogs(t *testing.T) {
	t.Helper()
	content, err := os.ReadFile(sp.logFile)
	if err != nil {
		t.Logf("Could not read log file: %v", err)
		return
	}
	t.Logf("Server logs:\n%s", string(content))
}
