//go:build !unix

package lineserver

import "syscall"

// On Windows SO_REUSEADDR allows port hijacking, so it is left unset.
func reuseAddr(_, _ string, _ syscall.RawConn) error {
	return nil
}
