package lineserver

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	lineTerminator = "\r\n"
	readBufferSize = 512
)

// Connection is one accepted client socket, owned by its handler until closed.
type Connection struct {
	ID          uuid.UUID
	RemoteAddr  string
	ConnectedAt time.Time

	conn      net.Conn
	remoteIP  string
	linesSent atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
	peerGone  chan struct{}
}

// ConnectionInfo is a point-in-time view of a Connection.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	LinesSent   int64     `json:"lines_sent"`
}

func newConnection(conn net.Conn, connectedAt time.Time) *Connection {
	addr := conn.RemoteAddr().String()
	return &Connection{
		ID:          uuid.New(),
		RemoteAddr:  addr,
		ConnectedAt: connectedAt,
		conn:        conn,
		remoteIP:    hostOf(addr),
		peerGone:    make(chan struct{}),
	}
}

func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:          c.ID.String(),
		RemoteAddr:  c.RemoteAddr,
		ConnectedAt: c.ConnectedAt,
		LinesSent:   c.linesSent.Load(),
	}
}

func (c *Connection) LinesSent() int64 { return c.linesSent.Load() }

func (c *Connection) Closed() bool { return c.closed.Load() }

// writeLine sends one CRLF-terminated line. Socket deadlines are wall-clock.
func (c *Connection) writeLine(line string, timeout time.Duration) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := io.WriteString(c.conn, line+lineTerminator); err != nil {
		return err
	}
	c.linesSent.Add(1)
	return nil
}

// discardInput reads and drops anything the client sends (telnet negotiation,
// keystrokes). A half-close (EOF) only ends reading; the client may still be
// listening, so a vanished peer is then noticed by the next failed write. Any
// other read error closes peerGone.
func (c *Connection) discardInput() {
	buf := make([]byte, readBufferSize)
	for {
		if _, err := c.conn.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) {
				close(c.peerGone)
			}
			return
		}
	}
}

// close releases the socket. Safe to call repeatedly; only the first call acts.
func (c *Connection) close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

// isDisconnect reports whether err means the peer went away rather than a local fault.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
