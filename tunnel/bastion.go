package tunnel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "gonntp/internal/errors"
	"gonntp/util"
)

// BastionConfig holds everything needed to dial an SSH gateway.
type BastionConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
	// KeepAlive is the interval between keepalive@openssh.com requests;
	// zero disables them.
	KeepAlive time.Duration
}

// Bastion implements [Tunnel] over one SSH client connection.  Many
// NNTP sessions share it; each forwarded connection is its own SSH
// channel.  A dead connection is re-established on the next Dial.
type Bastion struct {
	config *BastionConfig
	creds  *credentials
	logger *util.Logger

	mu     sync.Mutex
	client *ssh.Client
	alive  bool
	done   chan struct{}
}

// NewBastion creates a tunnel that is ready to [Bastion.Connect].
func NewBastion(cfg *BastionConfig, logger *util.Logger) *Bastion {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &Bastion{config: cfg, creds: newCredentials(cfg), logger: logger}
}

// Connect dials the SSH gateway and completes the handshake.  It is a
// no-op when the tunnel is already up.
func (b *Bastion) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.alive {
		return nil
	}
	return b.connectLocked(ctx)
}

func (b *Bastion) connectLocked(ctx context.Context) error {
	cfg := b.config
	authMethods, err := b.creds.methods()
	if err != nil {
		return ncerr.WrapSSH("auth", cfg.Host, cfg.Port, err)
	}

	hkCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return ncerr.WrapSSH("hostkey", cfg.Host, cfg.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         cfg.ConnTimeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	b.logger.Debug("bastion: dialing %s as %s", addr, cfg.User)

	dialer := net.Dialer{Timeout: cfg.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ncerr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		return ncerr.WrapSSH("handshake", cfg.Host, cfg.Port, err)
	}

	b.client = ssh.NewClient(sshConn, chans, reqs)
	b.alive = true
	b.done = make(chan struct{})

	go b.monitor(b.client, b.done)
	if cfg.KeepAlive > 0 {
		go b.keepalive(b.client, b.done)
	}

	b.logger.Verbose("bastion: connected to %s", addr)
	return nil
}

// Dial forwards a connection through the tunnel, reconnecting first if
// the SSH connection has dropped.
func (b *Bastion) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	b.mu.Lock()
	if !b.alive {
		b.logger.Info("bastion: reconnecting to %s", b.config.Host)
		if err := b.connectLocked(ctx); err != nil {
			b.mu.Unlock()
			return nil, err
		}
	}
	client := b.client
	b.mu.Unlock()

	b.logger.Debug("bastion: forwarding %s %s", network, address)
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, ncerr.Wrap("dial", address, fmt.Errorf("via bastion: %w", err))
	}
	return conn, nil
}

// Close shuts down the SSH connection.
func (b *Bastion) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.alive = false
	if b.client != nil {
		err := b.client.Close()
		b.client = nil
		return err
	}
	return nil
}

// IsAlive reports whether the tunnel is still connected.
func (b *Bastion) IsAlive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alive
}

// monitor blocks until the SSH connection closes and flips the alive
// flag, unless a newer connection has already replaced it.
func (b *Bastion) monitor(client *ssh.Client, done chan struct{}) {
	err := client.Wait()
	close(done)

	b.mu.Lock()
	if b.client == client {
		b.alive = false
	}
	b.mu.Unlock()

	if err != nil {
		b.logger.Debug("bastion: connection closed: %v", err)
	} else {
		b.logger.Debug("bastion: connection closed")
	}
}

// keepalive sends periodic keep-alive requests and closes the client
// when one fails, so the next Dial reconnects.
func (b *Bastion) keepalive(client *ssh.Client, done chan struct{}) {
	ticker := time.NewTicker(b.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				b.logger.Warn("bastion: keepalive failed: %v", err)
				client.Close()
				return
			}
			b.logger.Debug("bastion: keepalive OK")
		}
	}
}
