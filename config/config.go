// Package config defines the runtime configuration for gonntp and
// provides helpers for parsing bastion specifications and server
// addresses.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	ncerr "gonntp/internal/errors"
	"gonntp/util"
)

// Config holds every tuneable for one gonntp run.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Pool   PoolConfig   `yaml:"pool"`
	Retry  RetryConfig  `yaml:"retry"`
	Tunnel TunnelConfig `yaml:"tunnel"`
	Proxy  ProxyConfig  `yaml:"proxy"`
	Fetch  FetchConfig  `yaml:"fetch"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose     int    `yaml:"verbose"`
	LogJSON     bool   `yaml:"log_json"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// ServerConfig describes one upstream news server.
type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	TLS              bool   `yaml:"tls"`
	AllowInsecureTLS bool   `yaml:"allow_insecure_tls"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`

	// SASL selects AUTHINFO SASL PLAIN instead of USER/PASS.
	SASL bool `yaml:"sasl"`
	// Compress tries COMPRESS DEFLATE, then XFEATURE COMPRESS GZIP.
	Compress bool `yaml:"compress"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	TLSTimeout        time.Duration `yaml:"tls_timeout"`
	SingleLineTimeout time.Duration `yaml:"single_line_timeout"`
	MultiLineTimeout  time.Duration `yaml:"multi_line_timeout"`
	MaxBodySize       int64         `yaml:"max_body_size"`
	BlockLimit        int64         `yaml:"block_limit"`
}

// TLSServer returns a server on the implicit-TLS port 563.
func TLSServer(host, user, pass string) ServerConfig {
	s := defaultServer()
	s.Host, s.Port, s.TLS = host, DefaultTLSPort, true
	s.Username, s.Password = user, pass
	return s
}

// PlainServer returns a plaintext server on port 119.
func PlainServer(host, user, pass string) ServerConfig {
	s := defaultServer()
	s.Host, s.Port = host, DefaultPlainPort
	s.Username, s.Password = user, pass
	return s
}

// Addr returns host:port.
func (s *ServerConfig) Addr() string { return util.FormatAddr(s.Host, s.Port) }

// String hides the password.
func (s ServerConfig) String() string {
	scheme := "nntp"
	if s.TLS {
		scheme = "nntps"
	}
	if s.Username == "" {
		return fmt.Sprintf("%s://%s", scheme, s.Addr())
	}
	return fmt.Sprintf("%s://%s@%s", scheme, s.Username, s.Addr())
}

// PoolConfig sizes the session pool.
type PoolConfig struct {
	MaxSize            int           `yaml:"max_size"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout"`
	ReapInterval       time.Duration `yaml:"reap_interval"`
	BreakerThreshold   int           `yaml:"breaker_threshold"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`
}

// RetryConfig tunes exponential backoff.
type RetryConfig struct {
	InitialDelay   time.Duration `yaml:"initial_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	MaxAttempts    int           `yaml:"max_attempts"`
	JitterFraction float64       `yaml:"jitter_fraction"`
}

// TunnelConfig routes connections through an SSH bastion.
type TunnelConfig struct {
	Spec          string        `yaml:"spec"` // raw user@host[:port] from -T
	Enabled       bool          `yaml:"-"`
	User          string        `yaml:"user"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	KeyPath       string        `yaml:"key"`
	PromptPass    bool          `yaml:"password"` // true → prompt interactively
	UseAgent      bool          `yaml:"agent"`
	StrictHostKey bool          `yaml:"strict_host_key"`
	KnownHosts    string        `yaml:"known_hosts"`
	KeepAlive     time.Duration `yaml:"keep_alive"`
}

// ProxyConfig routes connections through a SOCKS5 proxy.
type ProxyConfig struct {
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// FetchConfig tunes batch downloads.
type FetchConfig struct {
	Concurrency int     `yaml:"concurrency"`
	CacheSize   int     `yaml:"cache_size"`
	RateLimit   float64 `yaml:"rate_limit"` // bytes/s, 0 = unlimited
	Verify      bool    `yaml:"verify"`
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyTunnelSpec fills the tunnel fields from Tunnel.Spec, if set.
func (c *Config) ApplyTunnelSpec() error {
	if c.Tunnel.Spec == "" {
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.Tunnel.Spec)
	if err != nil {
		return &ncerr.ConfigError{Field: "tunnel", Value: c.Tunnel.Spec, Message: err.Error()}
	}
	c.Tunnel.Enabled = true
	c.Tunnel.User, c.Tunnel.Host, c.Tunnel.Port = user, host, port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	s := &c.Server
	if s.Host == "" {
		return &ncerr.ConfigError{Field: "host", Message: "required", Hint: "pass -H news.example.com or set GONNTP_HOST"}
	}
	if s.Port < 1 || s.Port > 65535 {
		return &ncerr.ConfigError{Field: "port", Value: s.Port, Message: "out of range 1-65535", Hint: "use 119 for plaintext or 563 for TLS"}
	}
	if s.Password != "" && s.Username == "" {
		return &ncerr.ConfigError{Field: "password", Message: "set without a username", Hint: "add -u <user>"}
	}
	if s.SASL && s.Username == "" {
		return &ncerr.ConfigError{Field: "sasl", Message: "requires a username"}
	}
	if s.MaxBodySize < 0 || s.BlockLimit < 0 {
		return &ncerr.ConfigError{Field: "max-body", Value: s.MaxBodySize, Message: "must not be negative"}
	}

	if c.Pool.MaxSize < 1 {
		return &ncerr.ConfigError{Field: "connections", Value: c.Pool.MaxSize, Message: "must be at least 1"}
	}
	if c.Retry.MaxAttempts < 1 {
		return &ncerr.ConfigError{Field: "retries", Value: c.Retry.MaxAttempts, Message: "must be at least 1", Hint: "1 disables retrying"}
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		return &ncerr.ConfigError{Field: "jitter", Value: c.Retry.JitterFraction, Message: "must be within 0-1"}
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return &ncerr.ConfigError{Field: "retry-max-delay", Value: c.Retry.MaxDelay, Message: "below the initial delay"}
	}

	if c.Tunnel.Enabled && c.Tunnel.Host == "" {
		return &ncerr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
	}
	if c.Tunnel.Enabled && c.Proxy.Address != "" {
		return &ncerr.ConfigError{Field: "proxy", Value: c.Proxy.Address, Message: "cannot be combined with --tunnel"}
	}

	if c.Fetch.Concurrency < 1 {
		return &ncerr.ConfigError{Field: "fetch-concurrency", Value: c.Fetch.Concurrency, Message: "must be at least 1"}
	}
	if c.Fetch.RateLimit < 0 {
		return &ncerr.ConfigError{Field: "rate-limit", Value: c.Fetch.RateLimit, Message: "must not be negative", Hint: "0 disables the limit"}
	}

	return nil
}
