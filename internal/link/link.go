package link

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/waterline-io/waterline-core/internal/wire"
)

// Framing constants.
const (
	// maxFrameSize bounds a single frame. The channel carries small JSON
	// messages; anything larger is a protocol violation, not a big message.
	maxFrameSize = 16 * 1024

	// frameDelimiter terminates each frame on the stream.
	frameDelimiter = '\n'

	// defaultWriteTimeout bounds a single frame write so a stalled peer
	// cannot block a relay loop indefinitely.
	defaultWriteTimeout = 5 * time.Second
)

// Conn is a typed connection over the short-range channel.
//
// Each frame is one JSON envelope terminated by a newline. The typed
// read/write operations mirror the four broker message kinds one to one,
// plus the snapshot request/reply pair used for post-reconnect
// re-synchronisation.
//
// Thread Safety: one reader and one writer goroutine may use a Conn
// concurrently; multiple concurrent readers or writers are not supported.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
}

// NewConn wraps an established network connection.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, maxFrameSize),
	}
}

// Dial connects to a device agent's short-range channel.
//
// Parameters:
//   - addr: The agent's listen address
//   - timeout: Maximum time to wait for the connection
//
// Returns:
//   - *Conn: Connected typed channel
//   - error: Wrapped ErrConnectFailed if the dial fails
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	return NewConn(conn), nil
}

// WriteMessage encodes and sends a single message frame.
//
// Accepted types are those of wire.Encode. The write is bounded by a
// deadline; a stalled peer yields an error rather than a hang.
func (c *Conn) WriteMessage(msg any) error {
	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	if len(frame) >= maxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds maximum %d",
			wire.ErrMalformedMessage, len(frame), maxFrameSize)
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	frame = append(frame, frameDelimiter)
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return nil
}

// WriteRaw sends pre-framed bytes as-is, including any delimiter.
// Intended for keepalive lines and protocol tests; normal traffic goes
// through WriteMessage.
func (c *Conn) WriteRaw(p []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if _, err := c.conn.Write(p); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return nil
}

// ReadMessage reads and decodes the next frame.
//
// It blocks until a frame arrives, the deadline set via SetReadDeadline
// expires, or the connection closes. Malformed frames are returned as
// wire.ErrMalformedMessage so the caller can drop them and keep reading;
// transport failures are returned as ErrClosed and end the session.
func (c *Conn) ReadMessage() (any, error) {
	line, err := c.reader.ReadSlice(frameDelimiter)
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			// Frame exceeded maxFrameSize. The stream is now mid-frame and
			// unrecoverable without resynchronisation, so treat as fatal.
			return nil, fmt.Errorf("%w: oversized frame", ErrClosed)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%w: %w", ErrClosed, err)
	}

	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		// Empty keepalive line; skip to the next frame.
		return c.ReadMessage()
	}

	return wire.Decode(line)
}

// SetReadDeadline bounds the next ReadMessage call.
// A zero time removes the deadline.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// RemoteAddr returns the address of the peer.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close tears down the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Listener accepts short-range channel connections on the agent side.
//
// The original hardware exposes a BLE UART that a single gateway attaches
// to; Accept hands out one Conn at a time accordingly.
type Listener struct {
	ln net.Listener
}

// Listen starts accepting connections on the given address.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept waits for the next bridge connection.
func (l *Listener) Accept() (*Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return NewConn(conn), nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}
