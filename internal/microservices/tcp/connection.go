package tcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const DefaultChunkSize = 16

// Connection is a duplex byte channel over one TCP socket. It is owned by
// exactly one goroutine (the serving loop or a client call) and is closed
// exactly once, however many times Close is called.
type Connection struct {
	ID        string
	conn      net.Conn
	diag      Diagnostics
	ioTimeout time.Duration // 0 blocks forever
	info      SocketInfo

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewConnection wraps conn. A nil diag discards events.
func NewConnection(conn net.Conn, diag Diagnostics, ioTimeout time.Duration) *Connection {
	if diag == nil {
		diag = NopDiagnostics{}
	}
	id := uuid.NewString()
	return &Connection{
		ID:        id,
		conn:      conn,
		diag:      diag,
		ioTimeout: ioTimeout,
		info:      describeSocket(id, conn),
	}
}

// Send writes all of data, retrying short writes.
func (c *Connection) Send(data []byte) error {
	sent := 0
	for sent < len(data) {
		if c.closed.Load() {
			return &TransmissionError{Op: "send", Sent: sent, Err: net.ErrClosed}
		}
		if c.ioTimeout > 0 {
			c.conn.SetWriteDeadline(time.Now().Add(c.ioTimeout))
		}
		n, err := c.conn.Write(data[sent:])
		sent += n
		if err != nil {
			return &TransmissionError{Op: "send", Sent: sent, Err: classify(err)}
		}
		if n == 0 {
			return &TransmissionError{Op: "send", Sent: sent, Err: io.ErrShortWrite}
		}
	}
	if len(data) > 0 {
		c.diag.Chunk(ChunkEvent{SessionID: c.ID, Direction: DirectionSent, Payload: data, At: time.Now()})
	}
	return nil
}

// Receive returns up to maxChunk bytes. An empty, non-nil slice with a nil
// error means the peer closed its sending side.
func (c *Connection) Receive(maxChunk int) ([]byte, error) {
	if maxChunk <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", maxChunk)
	}
	if c.closed.Load() {
		return nil, &TransmissionError{Op: "receive", Err: net.ErrClosed}
	}
	if c.ioTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.ioTimeout))
	}

	buf := make([]byte, maxChunk)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			// a trailing EOF shows up again on the next Read
			chunk := buf[:n]
			c.diag.Chunk(ChunkEvent{SessionID: c.ID, Direction: DirectionReceived, Payload: chunk, At: time.Now()})
			return chunk, nil
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			c.diag.Chunk(ChunkEvent{SessionID: c.ID, Direction: DirectionReceived, Payload: []byte{}, At: time.Now()})
			return []byte{}, nil
		}
		return nil, &TransmissionError{Op: "receive", Err: classify(err)}
	}
}

// CloseWrite half-closes the socket so the peer reads EOF while we keep
// reading. Connections that cannot half-close are left alone.
func (c *Connection) CloseWrite() error {
	if hc, ok := c.conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return nil
}

// Close releases the socket. Calls after the first return nil.
func (c *Connection) Close() error {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	if !first {
		return nil
	}
	return c.closeErr
}

func (c *Connection) IsClosed() bool { return c.closed.Load() }

func (c *Connection) Info() SocketInfo { return c.info }

func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Connection) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// classify tags deadline expiry with ErrTimeout so callers can tell it apart.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func isTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

func describeSocket(id string, conn net.Conn) SocketInfo {
	info := SocketInfo{SessionID: id, Family: "AF_UNSPEC", Type: "SOCK_STREAM", Protocol: "IPPROTO_TCP"}
	if conn == nil {
		return info
	}
	if a := conn.LocalAddr(); a != nil {
		info.Local = a.String()
	}
	if a := conn.RemoteAddr(); a != nil {
		info.Remote = a.String()
	}
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		if tcpAddr.IP.To4() != nil {
			info.Family = "AF_INET"
		} else {
			info.Family = "AF_INET6"
		}
	} else if conn.RemoteAddr() != nil && conn.RemoteAddr().Network() == "pipe" {
		info.Family = "AF_UNIX"
		info.Protocol = "0"
	}
	return info
}
