//go:build linux || darwin || freebsd || netbsd || openbsd

package logger

import (
	"os"

	"golang.org/x/sys/unix"
)

// isTerminal reports whether f is attached to a terminal
func isTerminal(f *os.File) bool {
	_, err := unix.IoctlGetTermios(int(f.Fd()), ioctlReadTermios)
	return err == nil
}
