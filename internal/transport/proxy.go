package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// SOCKSDialer routes connections through a SOCKS5 proxy.
type SOCKSDialer struct {
	Address  string // proxy host:port
	Username string
	Password string
	Timeout  time.Duration
}

// Dial connects to address through the proxy.
func (d *SOCKSDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	var auth *proxy.Auth
	if d.Username != "" {
		auth = &proxy.Auth{User: d.Username, Password: d.Password}
	}

	forward := &net.Dialer{Timeout: d.Timeout}
	dialer, err := proxy.SOCKS5("tcp", d.Address, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", d.Address, err)
	}

	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return dialer.Dial(network, address)
	}
	return cd.DialContext(ctx, network, address)
}

// Close is a no-op; every Dial builds its own proxy session.
func (d *SOCKSDialer) Close() error { return nil }
