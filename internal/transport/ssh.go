package transport

import (
	"context"
	"net"

	"gonntp/tunnel"
)

// SSHDialer routes connections through a shared SSH bastion.  The
// bastion connects lazily on the first Dial, so building a pool never
// blocks on the gateway.
type SSHDialer struct {
	tunnel tunnel.Tunnel
}

// NewSSHDialer creates a dialer that forwards every connection through t.
func NewSSHDialer(t tunnel.Tunnel) *SSHDialer {
	return &SSHDialer{tunnel: t}
}

// Dial connects to address through the bastion.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if !d.tunnel.IsAlive() {
		if err := d.tunnel.Connect(ctx); err != nil {
			return nil, err
		}
	}
	return d.tunnel.Dial(ctx, network, address)
}

// Close tears down the bastion connection.
func (d *SSHDialer) Close() error { return d.tunnel.Close() }
