package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"

	ncerr "gonntp/internal/errors"
	"gonntp/util"
)

// TLSOptions configures the client side of an implicit-TLS connection.
type TLSOptions struct {
	// ServerName is used for SNI and certificate hostname verification.
	ServerName string
	// InsecureSkipVerify disables certificate verification.  Only for
	// servers with self-signed certificates the user explicitly trusts.
	InsecureSkipVerify bool
	// RootCAs overrides the system trust store (nil = system roots).
	RootCAs *x509.CertPool
}

func (o TLSOptions) config() *tls.Config {
	return &tls.Config{
		ServerName:         o.ServerName,
		InsecureSkipVerify: o.InsecureSkipVerify, //nolint:gosec // opt-in only
		RootCAs:            o.RootCAs,
		MinVersion:         tls.VersionTLS12,
	}
}

// Handshake wraps conn in a TLS client and completes the handshake,
// honouring ctx for cancellation and deadline.  On failure conn is
// closed.
func Handshake(ctx context.Context, conn net.Conn, addr string, opts TLSOptions, logger *util.Logger) (*tls.Conn, error) {
	cfg := opts.config()
	tconn := tls.Client(conn, cfg)

	logger.Debug("tls: handshake with %s (sni=%s, skip-verify=%v)", addr, cfg.ServerName, cfg.InsecureSkipVerify)
	if err := tconn.HandshakeContext(ctx); err != nil {
		tconn.Close()
		return nil, ncerr.Wrap("tls", addr, err)
	}

	state := tconn.ConnectionState()
	logger.Verbose("tls: %s established with %s (%s)",
		tls.VersionName(state.Version), addr, tls.CipherSuiteName(state.CipherSuite))
	return tconn, nil
}
