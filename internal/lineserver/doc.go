// Package lineserver implements the TCP line broadcaster.
//
// The Server accepts any number of concurrent clients and streams one CRLF-terminated
// payload line per interval to each of them. Every connection gets its own handler
// goroutine; the accept loop never waits on a client. Open connections live in a
// mutex-protected registry so Stop can close them all while handlers remove themselves
// concurrently. Whoever removes a connection from the registry closes it, which makes
// the close happen exactly once.
package lineserver
