// Package errors provides the error taxonomy for gonntp.
//
// Every failure surfaced by the engine is one of a small set of typed
// errors (transport, protocol, auth, compression, pool, validation,
// config).  The types carry enough context for callers to decide
// whether to retry, discard a session, or report to the user, and all
// of them unwrap to their underlying cause.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ── Transport ────────────────────────────────────────────────────────

// TransportError represents a failure moving bytes to or from the
// server: dial, TLS handshake, read, write.
type TransportError struct {
	Op        string // "dial", "tls", "read", "write", "proxy"
	Addr      string // server address
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *TransportError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *TransportError) Unwrap() error { return e.Err }

// Wrap creates a TransportError, detecting retryability from the
// underlying error.
func Wrap(op, addr string, err error) *TransportError {
	return &TransportError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// ── Protocol ─────────────────────────────────────────────────────────

// ProtocolKind enumerates protocol-level failure classes.
type ProtocolKind int

const (
	MalformedStatusCode ProtocolKind = iota + 1
	UnexpectedResponse
	Timeout
	NotAuthenticated
	NoSuchGroup
	NoSuchArticle
	NoGroupSelected
	NoCurrentArticle
	ResponseTooLarge
	ServiceUnavailable
	SessionBroken
)

var protocolKindNames = map[ProtocolKind]string{
	MalformedStatusCode: "malformed status code",
	UnexpectedResponse:  "unexpected response",
	Timeout:             "timeout",
	NotAuthenticated:    "not authenticated",
	NoSuchGroup:         "no such group",
	NoSuchArticle:       "no such article",
	NoGroupSelected:     "no group selected",
	NoCurrentArticle:    "no current article",
	ResponseTooLarge:    "response too large",
	ServiceUnavailable:  "service unavailable",
	SessionBroken:       "session broken",
}

func (k ProtocolKind) String() string {
	if s, ok := protocolKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ProtocolError is a malformed, unexpected, or semantically negative
// server reply.  Code is zero when no status line was involved.
type ProtocolError struct {
	Kind    ProtocolKind
	Code    int
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	s := "nntp: " + e.Kind.String()
	if e.Code != 0 {
		s += fmt.Sprintf(" (%d)", e.Code)
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is matches any ProtocolError of the same kind, so sentinels such as
// [ErrNoSuchGroup] work with errors.Is.
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	return ok && t.Kind == e.Kind
}

// Protocol builds a ProtocolError from a reply.
func Protocol(kind ProtocolKind, code int, msg string) *ProtocolError {
	return &ProtocolError{Kind: kind, Code: code, Message: msg}
}

// ── Auth ─────────────────────────────────────────────────────────────

// AuthKind enumerates authentication failure classes.
type AuthKind int

const (
	Rejected AuthKind = iota + 1
	OutOfSequence
	EncryptionRequired
	AlreadyAuthenticated
	Unsupported
	Temporary
)

func (k AuthKind) String() string {
	switch k {
	case Rejected:
		return "credentials rejected"
	case OutOfSequence:
		return "out of sequence"
	case EncryptionRequired:
		return "encryption required"
	case AlreadyAuthenticated:
		return "already authenticated"
	case Unsupported:
		return "unsupported mechanism"
	case Temporary:
		return "temporarily unavailable"
	default:
		return "unknown"
	}
}

// AuthError reports a failed AUTHINFO exchange.
type AuthError struct {
	Kind    AuthKind
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	s := "auth: " + e.Kind.String()
	if e.Code != 0 {
		s += fmt.Sprintf(" (%d)", e.Code)
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

// Is matches any AuthError of the same kind.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

// ── Compression ──────────────────────────────────────────────────────

// CompressionKind enumerates compression failure classes.
type CompressionKind int

const (
	Negotiation CompressionKind = iota + 1
	Decompress
	BlockTooLarge
)

func (k CompressionKind) String() string {
	switch k {
	case Negotiation:
		return "negotiation failed"
	case Decompress:
		return "decompression failed"
	case BlockTooLarge:
		return "block too large"
	default:
		return "unknown"
	}
}

// CompressionError reports a negotiation or decoding failure.  Limit
// is set for BlockTooLarge.
type CompressionError struct {
	Kind  CompressionKind
	Limit int64
	Err   error
}

func (e *CompressionError) Error() string {
	s := "compression: " + e.Kind.String()
	if e.Kind == BlockTooLarge && e.Limit > 0 {
		s += fmt.Sprintf(" (limit %d bytes)", e.Limit)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *CompressionError) Unwrap() error { return e.Err }

// Is matches any CompressionError of the same kind.
func (e *CompressionError) Is(target error) bool {
	t, ok := target.(*CompressionError)
	return ok && t.Kind == e.Kind
}

// ── Pool ─────────────────────────────────────────────────────────────

// PoolKind enumerates pool acquisition failures.
type PoolKind int

const (
	Closed PoolKind = iota + 1
	AcquireTimeout
	CircuitOpen
)

func (k PoolKind) String() string {
	switch k {
	case Closed:
		return "pool closed"
	case AcquireTimeout:
		return "acquire timed out"
	case CircuitOpen:
		return "circuit open"
	default:
		return "unknown"
	}
}

// PoolError reports a failure to obtain a lease.
type PoolError struct {
	Kind PoolKind
	Err  error
}

func (e *PoolError) Error() string {
	if e.Err != nil {
		return "pool: " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "pool: " + e.Kind.String()
}

func (e *PoolError) Unwrap() error { return e.Err }

// Is matches any PoolError of the same kind.
func (e *PoolError) Is(target error) bool {
	t, ok := target.(*PoolError)
	return ok && t.Kind == e.Kind
}

// ── Validation ───────────────────────────────────────────────────────

// ValidationError reports malformed input in a downloaded payload
// format (yEnc, PAR2, NZB).  Offset is -1 when not applicable.
type ValidationError struct {
	Format  string
	Offset  int64
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	s := e.Format + ": " + e.Message
	if e.Offset >= 0 {
		s += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid builds a ValidationError without an offset.
func Invalid(format, msg string, args ...interface{}) *ValidationError {
	return &ValidationError{Format: format, Offset: -1, Message: fmt.Sprintf(msg, args...)}
}

// InvalidAt builds a ValidationError pointing at a byte offset.
func InvalidAt(format string, offset int64, msg string, args ...interface{}) *ValidationError {
	return &ValidationError{Format: format, Offset: offset, Message: fmt.Sprintf(msg, args...)}
}

// ── SSH bastion ──────────────────────────────────────────────────────

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "channel"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── Config ───────────────────────────────────────────────────────────

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Sentinels ────────────────────────────────────────────────────────

var (
	ErrMalformedStatus    = &ProtocolError{Kind: MalformedStatusCode}
	ErrUnexpectedResponse = &ProtocolError{Kind: UnexpectedResponse}
	ErrTimeout            = &ProtocolError{Kind: Timeout}
	ErrNotAuthenticated   = &ProtocolError{Kind: NotAuthenticated}
	ErrNoSuchGroup        = &ProtocolError{Kind: NoSuchGroup}
	ErrNoSuchArticle      = &ProtocolError{Kind: NoSuchArticle}
	ErrNoGroupSelected    = &ProtocolError{Kind: NoGroupSelected}
	ErrNoCurrentArticle   = &ProtocolError{Kind: NoCurrentArticle}
	ErrResponseTooLarge   = &ProtocolError{Kind: ResponseTooLarge}
	ErrServiceUnavailable = &ProtocolError{Kind: ServiceUnavailable}
	ErrSessionBroken      = &ProtocolError{Kind: SessionBroken}

	ErrAuthRejected         = &AuthError{Kind: Rejected}
	ErrAlreadyAuthenticated = &AuthError{Kind: AlreadyAuthenticated}
	ErrEncryptionRequired   = &AuthError{Kind: EncryptionRequired}

	ErrBlockTooLarge = &CompressionError{Kind: BlockTooLarge}
	ErrDecompress    = &CompressionError{Kind: Decompress}

	ErrPoolClosed  = &PoolError{Kind: Closed}
	ErrCircuitOpen = &PoolError{Kind: CircuitOpen}

	ErrNotConnected = errors.New("not connected")
)

// ── Classification ───────────────────────────────────────────────────

// IsRetryable reports whether err is a transient failure worth another
// attempt: connection refused or reset, timeouts, a temporarily
// unavailable server, or a transient auth failure.  Semantic replies
// (no such group, no such article), credential rejection, compression
// and validation failures are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind == Timeout || pe.Kind == ServiceUnavailable
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind == Temporary
	}
	var ce *CompressionError
	if errors.As(err, &ce) {
		return false
	}
	var poe *PoolError
	if errors.As(err, &poe) {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var se *SSHError
	if errors.As(err, &se) {
		return classifyRetryable(se.Err)
	}
	return classifyRetryable(err)
}

// IsSessionFatal reports whether err leaves a session in an unknown
// wire state.  Such sessions must be discarded rather than reused.
func IsSessionFatal(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ce *CompressionError
	if errors.As(err, &ce) {
		return true
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case Timeout, MalformedStatusCode, ResponseTooLarge, SessionBroken:
			return true
		}
	}
	return false
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" || opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use gonntp/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
