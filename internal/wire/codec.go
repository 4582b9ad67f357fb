package wire

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	ncerr "gonntp/internal/errors"
	"gonntp/internal/transport"
)

// Defaults for [Timeouts] and the body size cap.
const (
	DefaultSingleLineTimeout = 60 * time.Second
	DefaultMultiLineTimeout  = 180 * time.Second
	DefaultMaxBodySize       = 64 * 1024 * 1024

	binaryInitialCap = 512 * 1024
	maxLineLength    = 1024 * 1024
	blockChunkSize   = 32 * 1024
)

// Timeouts bounds each exchange.  A single-line read (status line,
// command write) and a multi-line body read have independent budgets.
type Timeouts struct {
	SingleLine time.Duration
	MultiLine  time.Duration
}

// DefaultTimeouts returns 60 s for single lines and 180 s for bodies.
func DefaultTimeouts() Timeouts {
	return Timeouts{SingleLine: DefaultSingleLineTimeout, MultiLine: DefaultMultiLineTimeout}
}

// Resetter is implemented by per-response accounting layers (the
// decompressed block limiter) that must be rewound before each reply.
type Resetter interface {
	Reset()
}

// Codec reads and writes NNTP frames over a [transport.Conn].  It is
// not safe for concurrent use; the owning session serialises access.
type Codec struct {
	conn     *transport.Conn
	timeouts Timeouts
	maxBody  int64
	limiter  Resetter
}

// NewCodec binds a codec to conn.  Zero timeouts or maxBody select the
// defaults.
func NewCodec(conn *transport.Conn, t Timeouts, maxBody int64) *Codec {
	if t.SingleLine <= 0 {
		t.SingleLine = DefaultSingleLineTimeout
	}
	if t.MultiLine <= 0 {
		t.MultiLine = DefaultMultiLineTimeout
	}
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}
	return &Codec{conn: conn, timeouts: t, maxBody: maxBody}
}

// Conn returns the underlying transport.
func (c *Codec) Conn() *transport.Conn { return c.conn }

// SetLimiter registers a layer to rewind before every reply.
func (c *Codec) SetLimiter(r Resetter) { c.limiter = r }

// ── Commands ─────────────────────────────────────────────────────────

// WriteCommand sends a complete, CRLF-terminated command line.
func (c *Codec) WriteCommand(ctx context.Context, cmd []byte) error {
	stop := c.conn.Deadline(ctx, c.timeouts.SingleLine)
	defer stop()

	if _, err := c.conn.Write(cmd); err != nil {
		return c.fail(ctx, "write", err)
	}
	if err := c.conn.Flush(); err != nil {
		return c.fail(ctx, "write", err)
	}
	return nil
}

// WriteCommandf formats a command line and sends it with CRLF.
// Arguments containing CR or LF are rejected so that a caller-supplied
// group name or message-id cannot smuggle a second command.
func (c *Codec) WriteCommandf(ctx context.Context, format string, args ...interface{}) error {
	line := fmt.Sprintf(format, args...)
	if strings.ContainsAny(line, "\r\n") {
		return ncerr.Invalid("command", "line break in command %q", truncate(line, 64))
	}
	return c.WriteCommand(ctx, []byte(line+"\r\n"))
}

// ── Replies ──────────────────────────────────────────────────────────

// ReadStatusLine reads and parses one status line.
func (c *Codec) ReadStatusLine(ctx context.Context) (*Response, error) {
	if c.limiter != nil {
		c.limiter.Reset()
	}
	stop := c.conn.Deadline(ctx, c.timeouts.SingleLine)
	defer stop()

	raw, err := c.readLine(maxLineLength)
	if err != nil {
		return nil, c.fail(ctx, "read", err)
	}
	code, msg, err := ParseStatusLine(string(raw))
	if err != nil {
		return nil, err
	}
	return &Response{Code: code, Message: msg}, nil
}

// ReadMultilineBody reads body lines up to the lone-dot terminator,
// removing one leading dot from stuffed lines.
func (c *Codec) ReadMultilineBody(ctx context.Context) ([]string, error) {
	stop := c.conn.Deadline(ctx, c.timeouts.MultiLine)
	defer stop()

	lines := make([]string, 0, 64)
	var total int64
	for {
		raw, err := c.readLine(maxLineLength)
		if err != nil {
			return nil, c.fail(ctx, "read", err)
		}
		line := trimEOL(raw)
		if isTerminator(line) {
			return lines, nil
		}
		total += int64(len(raw))
		if total > c.maxBody {
			return nil, ncerr.Protocol(ncerr.ResponseTooLarge, 0, fmt.Sprintf("body exceeds %d bytes", c.maxBody))
		}
		lines = append(lines, string(unstuffBytes(line)))
	}
}

// ReadMultilineBinary reads a body as one byte slice: line terminators
// and stuffing dots are removed and the remaining line contents are
// concatenated.
func (c *Codec) ReadMultilineBinary(ctx context.Context) ([]byte, error) {
	stop := c.conn.Deadline(ctx, c.timeouts.MultiLine)
	defer stop()

	data := make([]byte, 0, binaryInitialCap)
	for {
		raw, err := c.readLine(maxLineLength)
		if err != nil {
			return nil, c.fail(ctx, "read", err)
		}
		line := trimEOL(raw)
		if isTerminator(line) {
			return data, nil
		}
		line = unstuffBytes(line)
		if int64(len(data)+len(line)) > c.maxBody {
			return nil, ncerr.Protocol(ncerr.ResponseTooLarge, 0, fmt.Sprintf("body exceeds %d bytes", c.maxBody))
		}
		data = append(data, line...)
	}
}

// ReadBlock reads raw bytes until the accumulated data ends with
// ".\r\n" or ".\n" and stores them in dst without the terminator.  It
// fails with a CompressionError once more than limit bytes arrive.
func (c *Codec) ReadBlock(ctx context.Context, limit int64, dst *bytes.Buffer) error {
	stop := c.conn.Deadline(ctx, c.timeouts.MultiLine)
	defer stop()

	r := c.conn.Reader()
	chunk := make([]byte, blockChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			dst.Write(chunk[:n])
			if int64(dst.Len()) > limit {
				return &ncerr.CompressionError{Kind: ncerr.BlockTooLarge, Limit: limit}
			}
			data := dst.Bytes()
			if bytes.HasSuffix(data, []byte(".\r\n")) {
				dst.Truncate(len(data) - 3)
				return nil
			}
			if bytes.HasSuffix(data, []byte(".\n")) {
				dst.Truncate(len(data) - 2)
				return nil
			}
		}
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return c.fail(ctx, "read", err)
		}
	}
}

// ── internal ─────────────────────────────────────────────────────────

// readLine returns one line including its terminator.  The slice may
// alias the reader's buffer and is only valid until the next read.
func (c *Codec) readLine(limit int) ([]byte, error) {
	r := c.conn.Reader()
	var long []byte
	for {
		frag, err := r.ReadSlice('\n')
		switch {
		case err == nil:
			if long == nil {
				return frag, nil
			}
			return append(long, frag...), nil
		case errors.Is(err, bufio.ErrBufferFull):
			long = append(long, frag...)
			if len(long) > limit {
				return nil, ncerr.Protocol(ncerr.ResponseTooLarge, 0, fmt.Sprintf("line exceeds %d bytes", limit))
			}
		case errors.Is(err, io.EOF):
			if len(long)+len(frag) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

// fail classifies an I/O error.  Compression and protocol errors from
// lower layers pass through; deadline expiry becomes a protocol
// timeout; everything else is a transport error.
func (c *Codec) fail(ctx context.Context, op string, err error) error {
	var ce *ncerr.CompressionError
	if errors.As(err, &ce) {
		return err
	}
	var pe *ncerr.ProtocolError
	if errors.As(err, &pe) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ncerr.Wrap(op, c.conn.Addr(), ctxErr)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &ncerr.ProtocolError{Kind: ncerr.Timeout, Message: op + " " + c.conn.Addr(), Err: err}
	}
	return ncerr.Wrap(op, c.conn.Addr(), err)
}
