//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package logger

import "os"

func isTerminal(*os.File) bool { return false }
