package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPlainPort is the NNTP port (RFC 3977).
	DefaultPlainPort = 119

	// DefaultTLSPort is the implicit-TLS NNTP port.
	DefaultTLSPort = 563

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnectTimeout bounds the TCP connect.
	DefaultConnectTimeout = 120 * time.Second

	// DefaultTLSTimeout bounds the TLS handshake.
	DefaultTLSTimeout = 60 * time.Second

	// DefaultSingleLineTimeout bounds one status line read.
	DefaultSingleLineTimeout = 60 * time.Second

	// DefaultMultiLineTimeout bounds one multi-line body read.
	DefaultMultiLineTimeout = 180 * time.Second

	// DefaultMaxBodySize caps one multi-line reply.
	DefaultMaxBodySize = 64 * 1024 * 1024

	// DefaultBlockLimit caps one decompressed reply.
	DefaultBlockLimit = 64 * 1024 * 1024

	// DefaultPoolSize is the number of concurrent sessions.
	DefaultPoolSize = 10

	// DefaultIdleTimeout evicts idle sessions older than this.
	DefaultIdleTimeout = 300 * time.Second

	// DefaultHealthCheckTimeout bounds the DATE liveness check.
	DefaultHealthCheckTimeout = 5 * time.Second

	// DefaultReapInterval is how often idle sessions are pruned.
	DefaultReapInterval = 60 * time.Second

	// DefaultBreakerThreshold opens the circuit after this many
	// consecutive connection failures.
	DefaultBreakerThreshold = 5

	// DefaultBreakerTimeout is how long an open circuit rejects
	// new connections before probing.
	DefaultBreakerTimeout = 30 * time.Second

	// DefaultInitialDelay is the first retry delay.
	DefaultInitialDelay = 100 * time.Millisecond

	// DefaultMaxDelay caps the retry delay.
	DefaultMaxDelay = 10 * time.Second

	// DefaultMaxAttempts includes the first try.
	DefaultMaxAttempts = 4

	// DefaultJitterFraction spreads retry delays by ±25 %.
	DefaultJitterFraction = 0.25

	// DefaultKeepAlive is the SSH keepalive interval.
	DefaultKeepAlive = 30 * time.Second

	// DefaultFetchConcurrency is the number of segments in flight.
	DefaultFetchConcurrency = DefaultPoolSize

	// DefaultCacheSize is the number of decoded segments kept in memory.
	DefaultCacheSize = 256
)

func defaultServer() ServerConfig {
	return ServerConfig{
		Port:              DefaultPlainPort,
		ConnectTimeout:    DefaultConnectTimeout,
		TLSTimeout:        DefaultTLSTimeout,
		SingleLineTimeout: DefaultSingleLineTimeout,
		MultiLineTimeout:  DefaultMultiLineTimeout,
		MaxBodySize:       DefaultMaxBodySize,
		BlockLimit:        DefaultBlockLimit,
		Compress:          true,
	}
}

// Default returns a Config with every field at its default.
func Default() *Config {
	return &Config{
		Server: defaultServer(),
		Pool: PoolConfig{
			MaxSize:            DefaultPoolSize,
			IdleTimeout:        DefaultIdleTimeout,
			HealthCheckTimeout: DefaultHealthCheckTimeout,
			ReapInterval:       DefaultReapInterval,
			BreakerThreshold:   DefaultBreakerThreshold,
			BreakerTimeout:     DefaultBreakerTimeout,
		},
		Retry: RetryConfig{
			InitialDelay:   DefaultInitialDelay,
			MaxDelay:       DefaultMaxDelay,
			MaxAttempts:    DefaultMaxAttempts,
			JitterFraction: DefaultJitterFraction,
		},
		Tunnel: TunnelConfig{
			Port:      DefaultSSHPort,
			KeepAlive: DefaultKeepAlive,
		},
		Fetch: FetchConfig{
			Concurrency: DefaultFetchConcurrency,
			CacheSize:   DefaultCacheSize,
			Verify:      true,
		},
		Verbose: 1,
	}
}
