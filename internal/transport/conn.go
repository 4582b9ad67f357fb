package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the read buffer size for a server connection
// (256 KiB), large enough to hold several overview lines or a chunk of
// a binary body per syscall.
const DefaultBufferSize = 256 * 1024

// Conn is a buffered, deadline-aware byte stream to one server.
//
// Codecs (compression) are stacked on top with [Conn.Push]; the wire
// codec always reads from [Conn.Reader] and writes through [Conn.Write]
// without knowing which layers are active.  A Conn is not safe for
// concurrent use: exactly one session owns it.
type Conn struct {
	raw     net.Conn
	counted *countingConn
	addr    string
	bufSize int

	r       *bufio.Reader
	w       io.Writer
	flushes []func() error // top layer first
}

// NewConn wraps an established (and, if applicable, TLS-handshaken)
// connection.  bufSize <= 0 selects [DefaultBufferSize].
func NewConn(raw net.Conn, addr string, bufSize int) *Conn {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	cc := &countingConn{Conn: raw}
	bw := bufio.NewWriterSize(cc, 4096)
	return &Conn{
		raw:     raw,
		counted: cc,
		addr:    addr,
		bufSize: bufSize,
		r:       bufio.NewReaderSize(cc, bufSize),
		w:       bw,
		flushes: []func() error{bw.Flush},
	}
}

// Addr returns the server address this connection was dialed to.
func (c *Conn) Addr() string { return c.addr }

// Reader returns the top-most buffered reader.
func (c *Conn) Reader() *bufio.Reader { return c.r }

// Write writes p through the top-most writer.  Bytes are not sent until
// [Conn.Flush].
func (c *Conn) Write(p []byte) (int, error) { return c.w.Write(p) }

// Flush pushes buffered output through every layer to the network.
func (c *Conn) Flush() error {
	for _, f := range c.flushes {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

// Push stacks a codec on the stream.  r must read from the current
// [Conn.Reader] and w must write into the current writer; flush is run
// before the lower layers are flushed.
func (c *Conn) Push(r io.Reader, w io.Writer, flush func() error) {
	c.r = bufio.NewReaderSize(r, c.bufSize)
	c.w = w
	if flush != nil {
		c.flushes = append([]func() error{flush}, c.flushes...)
	}
}

// Lower returns the current reader and writer for a codec about to be
// stacked with [Conn.Push].
func (c *Conn) Lower() (io.Reader, io.Writer) { return c.r, c.w }

// Deadline arms the connection deadline for one exchange: now+timeout,
// or the context deadline if that comes first.  If ctx is cancelled
// while the exchange is blocked, the deadline is moved into the past
// so the pending read or write returns immediately.  The returned stop
// function must be called when the exchange completes.
func (c *Conn) Deadline(ctx context.Context, timeout time.Duration) (stop func()) {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	c.raw.SetDeadline(d) //nolint:errcheck

	unregister := context.AfterFunc(ctx, func() {
		c.raw.SetDeadline(time.Unix(1, 0)) //nolint:errcheck
	})
	return func() { unregister() }
}

// TLS reports the TLS state when the connection is encrypted.
func (c *Conn) TLS() (tls.ConnectionState, bool) {
	if tc, ok := c.raw.(*tls.Conn); ok {
		return tc.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

// BytesRead returns the number of bytes received off the network.
func (c *Conn) BytesRead() int64 { return c.counted.read.Load() }

// BytesWritten returns the number of bytes sent to the network.
func (c *Conn) BytesWritten() int64 { return c.counted.written.Load() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.raw.Close() }

// countingConn tallies raw network traffic.
type countingConn struct {
	net.Conn
	read    atomic.Int64
	written atomic.Int64
}

func (c *countingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.read.Add(int64(n))
	return n, err
}

func (c *countingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.written.Add(int64(n))
	return n, err
}
