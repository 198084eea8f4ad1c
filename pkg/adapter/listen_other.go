//go:build !unix

package adapter

import "syscall"

func reuseAddrControl(_, _ string, _ syscall.RawConn) error { return nil }
