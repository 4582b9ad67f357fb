// Package transport owns the byte stream to an NNTP server: dialing
// (plain TCP, through an SSH bastion or a SOCKS5 proxy), the optional
// TLS handshake, and a buffered, deadline-aware [Conn] that the wire
// codec reads lines from.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer, an SSH-tunnelled dialer that routes traffic
// through a bastion host, and a SOCKS5 proxy dialer.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}
