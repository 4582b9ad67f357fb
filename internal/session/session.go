// Package session drives one NNTP connection through its lifecycle:
// connect and greet, authenticate, negotiate compression, then issue
// read-only commands one at a time.
//
// A Session is safe for concurrent use in the sense that commands are
// serialised on an internal mutex, but it is designed to be owned by a
// single borrower at a time (see package pool).
package session

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gonntp/config"
	"gonntp/internal/compress"
	ncerr "gonntp/internal/errors"
	"gonntp/internal/metrics"
	"gonntp/internal/transport"
	"gonntp/internal/wire"
	"gonntp/util"
)

// State is the position of a Session in the protocol state machine.
type State int

const (
	Connected State = iota
	Authenticated
	GroupSelected
	Closed
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	case GroupSelected:
		return "group-selected"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options carries the collaborators of a Session.  Every field is
// optional.
type Options struct {
	// Dialer opens the byte stream (default: plain TCP).
	Dialer transport.Dialer
	// Logger receives protocol traces (default: discard).
	Logger *util.Logger
	// Metrics receives byte and command counts (nil = off).
	Metrics *metrics.Collector
	// RootCAs overrides the system trust store for TLS.
	RootCAs *x509.CertPool
	// BufferSize is the read buffer size (default 256 KiB).
	BufferSize int
}

// Session is one authenticated-or-not connection to a news server.
type Session struct {
	id      string
	cfg     config.ServerConfig
	conn    *transport.Conn
	codec   *wire.Codec
	logger  *util.Logger
	metrics *metrics.Collector
	created time.Time

	broken atomic.Bool

	mu       sync.Mutex
	state    State
	mode     compress.Mode
	stats    compress.Stats
	caps     *Capabilities
	group    *GroupInfo
	greeting wire.Response

	// last values pushed to the metrics collector
	seenRead, seenWritten, seenComp, seenDecomp int64
}

// Connect dials the server, performs the TLS handshake when configured
// and reads the greeting.  On any failure the connection is closed.
func Connect(ctx context.Context, cfg config.ServerConfig, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = util.Nop()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &transport.TCPDialer{Timeout: cfg.ConnectTimeout}
	}
	addr := cfg.Addr()
	id := uuid.NewString()
	log := logger.With("session", id[:8])

	dctx, cancel := withTimeout(ctx, cfg.ConnectTimeout)
	raw, err := dialer.Dial(dctx, "tcp", addr)
	cancel()
	if err != nil {
		return nil, wrapDial(addr, err)
	}
	log.Verbose("connected to %s", addr)

	if cfg.TLS {
		hctx, cancel := withTimeout(ctx, cfg.TLSTimeout)
		tconn, err := transport.Handshake(hctx, raw, addr, transport.TLSOptions{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.AllowInsecureTLS,
			RootCAs:            opts.RootCAs,
		}, log)
		cancel()
		if err != nil {
			return nil, err
		}
		raw = tconn
	}

	conn := transport.NewConn(raw, addr, opts.BufferSize)
	s := &Session{
		id:      id,
		cfg:     cfg,
		conn:    conn,
		codec:   wire.NewCodec(conn, wire.Timeouts{SingleLine: cfg.SingleLineTimeout, MultiLine: cfg.MultiLineTimeout}, cfg.MaxBodySize),
		logger:  log,
		metrics: opts.Metrics,
		created: time.Now(),
		state:   Connected,
	}

	greeting, err := s.codec.ReadStatusLine(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	log.Debug("<<< %s", greeting)
	switch greeting.Code {
	case wire.CodeReadyPosting, wire.CodeReadyNoPost:
	case wire.CodeUnavailable:
		conn.Close()
		return nil, greeting.Err(ncerr.ServiceUnavailable)
	default:
		conn.Close()
		return nil, greeting.Err(ncerr.UnexpectedResponse)
	}
	s.greeting = *greeting
	s.metrics.SessionOpened()
	return s, nil
}

// ── Accessors ────────────────────────────────────────────────────────

// ID is a random identifier used in logs.
func (s *Session) ID() string { return s.id }

// Addr returns the server address.
func (s *Session) Addr() string { return s.conn.Addr() }

// CreatedAt returns when the connection was established.
func (s *Session) CreatedAt() time.Time { return s.created }

// Greeting returns the server's initial reply.
func (s *Session) Greeting() wire.Response { return s.greeting }

// PostingAllowed reports whether the greeting was 200 rather than 201.
func (s *Session) PostingAllowed() bool { return s.greeting.Code == wire.CodeReadyPosting }

// IsBroken reports whether an I/O, timeout or compression failure has
// made the session unusable.  Never blocks.
func (s *Session) IsBroken() bool { return s.broken.Load() }

// MarkBroken flags the session so a pool discards it.
func (s *Session) MarkBroken() { s.broken.Store(true) }

// State returns the current protocol state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Compression returns the negotiated compression mode.
func (s *Session) Compression() compress.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Stats returns the compression byte counters.
func (s *Session) Stats() *compress.Stats { return &s.stats }

// CurrentGroup returns the selected group, or nil.
func (s *Session) CurrentGroup() *GroupInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group == nil {
		return nil
	}
	g := *s.group
	return &g
}

// TLS returns the connection state when TLS is active.
func (s *Session) TLS() (tls.ConnectionState, bool) { return s.conn.TLS() }

// ── Teardown ─────────────────────────────────────────────────────────

// Quit sends QUIT, waits briefly for the acknowledgement and closes
// the connection.  Errors from the exchange are ignored.
func (s *Session) Quit(ctx context.Context) error {
	s.lock()
	defer s.unlock()
	if s.state == Closed {
		return nil
	}
	if !s.broken.Load() {
		qctx, cancel := withTimeout(ctx, 5*time.Second)
		if err := s.codec.WriteCommand(qctx, wire.CmdQuit); err == nil {
			if resp, err := s.codec.ReadStatusLine(qctx); err == nil {
				s.logger.Debug("<<< %s", resp)
			}
		}
		cancel()
	}
	return s.closeLocked()
}

// Close drops the connection without QUIT.
func (s *Session) Close() error {
	s.lock()
	defer s.unlock()
	if s.state == Closed {
		return nil
	}
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	s.state = Closed
	s.broken.Store(true)
	s.metrics.SessionClosed()
	s.logger.Verbose("closed (read %d bytes, wrote %d bytes, compression %s)",
		s.conn.BytesRead(), s.conn.BytesWritten(), s.mode)
	err := s.conn.Close()
	if util.IsHarmless(err) {
		return nil
	}
	return err
}

// ── Exchange helpers (s.mu held) ─────────────────────────────────────

func (s *Session) lock() { s.mu.Lock() }

// unlock publishes byte counters accumulated by the last exchange.
func (s *Session) unlock() {
	if s.metrics != nil {
		r, w := s.conn.BytesRead(), s.conn.BytesWritten()
		c, d := s.stats.Compressed(), s.stats.Decompressed()
		s.metrics.BytesReceived(r - s.seenRead)
		s.metrics.BytesSent(w - s.seenWritten)
		s.metrics.Compression(c-s.seenComp, d-s.seenDecomp)
		s.seenRead, s.seenWritten, s.seenComp, s.seenDecomp = r, w, c, d
	}
	s.mu.Unlock()
}

// ready rejects commands on closed or broken sessions and read
// commands before authentication.
func (s *Session) ready(need State) error {
	if s.state == Closed {
		return ncerr.Protocol(ncerr.SessionBroken, 0, "session closed")
	}
	if s.broken.Load() {
		return ncerr.Protocol(ncerr.SessionBroken, 0, "session broken")
	}
	if need >= Authenticated && s.state < Authenticated {
		return ncerr.Protocol(ncerr.NotAuthenticated, 0, "authenticate first")
	}
	return nil
}

// do sends a pre-built command and reads its status line.
func (s *Session) do(ctx context.Context, cmd []byte) (*wire.Response, error) {
	s.logger.Debug(">>> %s", strings.TrimRight(string(cmd), "\r\n"))
	if err := s.codec.WriteCommand(ctx, cmd); err != nil {
		return nil, s.fail(err)
	}
	return s.status(ctx)
}

// dof formats, sends and reads the status line of one command.
func (s *Session) dof(ctx context.Context, format string, args ...interface{}) (*wire.Response, error) {
	if s.logger.Level() >= util.LogDebug {
		s.logger.Debug(">>> %s", redact(fmt.Sprintf(format, args...)))
	}
	if err := s.codec.WriteCommandf(ctx, format, args...); err != nil {
		return nil, s.fail(err)
	}
	return s.status(ctx)
}

func (s *Session) status(ctx context.Context) (*wire.Response, error) {
	s.metrics.Command()
	resp, err := s.codec.ReadStatusLine(ctx)
	if err != nil {
		return nil, s.fail(err)
	}
	s.logger.Debug("<<< %s", resp)
	if resp.Code == wire.CodeUnavailable {
		// 400 means the server is about to close the connection.
		s.broken.Store(true)
	}
	return resp, nil
}

// readBody reads the multi-line block that follows resp, inflating it
// when the server flagged it as headers-only compressed.
func (s *Session) readBody(ctx context.Context, resp *wire.Response) error {
	if s.mode == compress.HeadersOnly && strings.Contains(resp.Message, compress.GzipMarker) {
		buf := util.GetBuf()
		defer util.PutBuf(buf)
		limit := s.blockLimit()
		if err := s.codec.ReadBlock(ctx, limit, buf); err != nil {
			return s.fail(err)
		}
		lines, n, err := compress.DecodeLines(buf.Bytes(), limit)
		if err != nil {
			return s.fail(err)
		}
		s.stats.Record(int64(buf.Len()), int64(n))
		s.logger.Debug("inflated %d bytes to %d", buf.Len(), n)
		resp.Lines = lines
		return nil
	}

	lines, err := s.codec.ReadMultilineBody(ctx)
	if err != nil {
		return s.fail(err)
	}
	if s.mode == compress.HeadersOnly {
		var n int64
		for _, l := range lines {
			n += int64(len(l)) + 2
		}
		s.stats.Record(n, n)
	}
	resp.Lines = lines
	return nil
}

func (s *Session) blockLimit() int64 {
	if s.cfg.BlockLimit > 0 {
		return s.cfg.BlockLimit
	}
	return compress.DefaultBlockLimit
}

// fail marks the session broken when err leaves the stream in an
// unknown position.
func (s *Session) fail(err error) error {
	if ncerr.IsSessionFatal(err) && !s.broken.Swap(true) {
		s.logger.Warn("session broken: %v", err)
		s.metrics.RecordError(err.Error())
	}
	return err
}

// unexpected maps a status code that the command does not define.  A
// success or continuation code the command does not expect may be
// followed by a body, so the stream position is unknown and the session
// is marked broken.  Error codes (4xx, 5xx) never carry a body.
func (s *Session) unexpected(resp *wire.Response) error {
	err := unexpected(resp)
	if resp.Code < 400 && !s.broken.Swap(true) {
		s.logger.Warn("session broken: %v", err)
		s.metrics.RecordError(err.Error())
	}
	return err
}

func unexpected(resp *wire.Response) error {
	switch resp.Code {
	case wire.CodeUnavailable:
		return resp.Err(ncerr.ServiceUnavailable)
	case wire.CodeAuthRequired:
		return resp.Err(ncerr.NotAuthenticated)
	case wire.CodeNoSuchGroup:
		return resp.Err(ncerr.NoSuchGroup)
	case wire.CodeNoGroupSelected:
		return resp.Err(ncerr.NoGroupSelected)
	case wire.CodeNoCurrentArticle:
		return resp.Err(ncerr.NoCurrentArticle)
	case wire.CodeNoNextArticle, wire.CodeNoPrevArticle, wire.CodeNoSuchArticleNum, wire.CodeNoSuchMessageID:
		return resp.Err(ncerr.NoSuchArticle)
	}
	return resp.Err(ncerr.UnexpectedResponse)
}

func redact(line string) string {
	upper := strings.ToUpper(line)
	if strings.HasPrefix(upper, "AUTHINFO PASS ") {
		return "AUTHINFO PASS ********"
	}
	if strings.HasPrefix(upper, "AUTHINFO SASL ") {
		return "AUTHINFO SASL ********"
	}
	return line
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func wrapDial(addr string, err error) error {
	var te *ncerr.TransportError
	var se *ncerr.SSHError
	if ncerr.As(err, &te) || ncerr.As(err, &se) {
		return err
	}
	return ncerr.Wrap("dial", addr, err)
}
