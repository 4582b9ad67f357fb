package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. YAML file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the GONNTP_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("90s") or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	s := &cfg.Server
	if v := os.Getenv("GONNTP_HOST"); v != "" {
		s.Host = v
	}
	if v := envInt("GONNTP_PORT"); v > 0 {
		s.Port = v
	}
	if v, ok := envBool("GONNTP_TLS"); ok {
		s.TLS = v
		if v && s.Port == DefaultPlainPort {
			s.Port = DefaultTLSPort
		}
	}
	if v, ok := envBool("GONNTP_INSECURE"); ok {
		s.AllowInsecureTLS = v
	}
	if v := os.Getenv("GONNTP_USER"); v != "" {
		s.Username = v
	}
	if v := os.Getenv("GONNTP_PASS"); v != "" {
		s.Password = v
	}
	if v, ok := envBool("GONNTP_SASL"); ok {
		s.SASL = v
	}
	if v, ok := envBool("GONNTP_COMPRESS"); ok {
		s.Compress = v
	}
	if v := envDuration("GONNTP_TIMEOUT"); v > 0 {
		s.SingleLineTimeout = v
	}
	if v := envDuration("GONNTP_BODY_TIMEOUT"); v > 0 {
		s.MultiLineTimeout = v
	}

	// Pool and retry
	if v := envInt("GONNTP_CONNECTIONS"); v > 0 {
		cfg.Pool.MaxSize = v
	}
	if v := envDuration("GONNTP_IDLE_TIMEOUT"); v > 0 {
		cfg.Pool.IdleTimeout = v
	}
	if v := envInt("GONNTP_RETRIES"); v > 0 {
		cfg.Retry.MaxAttempts = v
	}

	// SSH tunnel
	if v := os.Getenv("GONNTP_TUNNEL"); v != "" {
		cfg.Tunnel.Spec = v
	}
	if v := os.Getenv("GONNTP_SSH_KEY"); v != "" {
		cfg.Tunnel.KeyPath = v
	}
	if v, ok := envBool("GONNTP_SSH_PASSWORD"); ok {
		cfg.Tunnel.PromptPass = v
	}
	if v, ok := envBool("GONNTP_SSH_AGENT"); ok {
		cfg.Tunnel.UseAgent = v
	}
	if v, ok := envBool("GONNTP_STRICT_HOSTKEY"); ok {
		cfg.Tunnel.StrictHostKey = v
	}
	if v := os.Getenv("GONNTP_KNOWN_HOSTS"); v != "" {
		cfg.Tunnel.KnownHosts = v
	}

	// SOCKS5 proxy
	if v := os.Getenv("GONNTP_PROXY"); v != "" {
		cfg.Proxy.Address = v
	}

	// Fetch
	if v := envInt("GONNTP_FETCH_CONCURRENCY"); v > 0 {
		cfg.Fetch.Concurrency = v
	}
	if v := envInt("GONNTP_RATE_LIMIT"); v > 0 {
		cfg.Fetch.RateLimit = float64(v)
	}

	// Output
	if v := envInt("GONNTP_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	if v, ok := envBool("GONNTP_LOG_JSON"); ok {
		cfg.LogJSON = v
	}
	if v := os.Getenv("GONNTP_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// envBool returns the parsed value and whether the variable was set.
func envBool(key string) (bool, bool) {
	v := strings.ToLower(os.Getenv(key))
	switch v {
	case "":
		return false, false
	case "1", "true", "yes":
		return true, true
	default:
		return false, true
	}
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return 0
}
