// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"gonntp/config"
	"gonntp/internal/core"
	"gonntp/internal/metrics"
	"gonntp/tunnel"
	"gonntp/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X gonntp/cmd.version=2.0.0"
var version = "0.3.0" //nolint:gochecknoglobals

// Execute parses args and runs the selected subcommand.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	// Precedence: defaults < config file < environment < flags.  The
	// file and environment are applied first so their values become the
	// flag defaults shown by --help.
	cfg := config.Default()
	if path := configPath(args); path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("gonntp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(true)

	var configFile string
	fs.StringVar(&configFile, "config", "", "YAML config file")

	// ── server ───────────────────────────────────────────────────
	s := &cfg.Server
	fs.StringVarP(&s.Host, "host", "H", s.Host, "News server host[:port]")
	fs.IntVarP(&s.Port, "port", "P", s.Port, "News server port (563 with --tls)")
	fs.BoolVar(&s.TLS, "tls", s.TLS, "Implicit TLS")
	fs.BoolVar(&s.AllowInsecureTLS, "insecure", s.AllowInsecureTLS, "Skip TLS certificate verification")
	fs.StringVarP(&s.Username, "user", "u", s.Username, "Username (anonymous when empty)")
	fs.StringVar(&s.Password, "pass", s.Password, "Password")
	var askPass bool
	fs.BoolVar(&askPass, "ask-pass", false, "Prompt for the password")
	fs.BoolVar(&s.SASL, "sasl", s.SASL, "Authenticate with SASL PLAIN (TLS only)")
	fs.BoolVar(&s.Compress, "compress", s.Compress, "Negotiate compression")
	fs.DurationVar(&s.SingleLineTimeout, "timeout", s.SingleLineTimeout, "Status line timeout")
	fs.DurationVar(&s.MultiLineTimeout, "body-timeout", s.MultiLineTimeout, "Multi-line body timeout")
	fs.Int64Var(&s.MaxBodySize, "max-body", s.MaxBodySize, "Largest multi-line reply in bytes")

	// ── pool / retry ─────────────────────────────────────────────
	fs.IntVarP(&cfg.Pool.MaxSize, "connections", "c", cfg.Pool.MaxSize, "Concurrent sessions")
	fs.DurationVar(&cfg.Pool.IdleTimeout, "idle-timeout", cfg.Pool.IdleTimeout, "Evict sessions idle this long")
	fs.IntVar(&cfg.Retry.MaxAttempts, "retries", cfg.Retry.MaxAttempts, "Attempts per operation, including the first")

	// ── routing ──────────────────────────────────────────────────
	fs.StringVarP(&cfg.Tunnel.Spec, "tunnel", "T", cfg.Tunnel.Spec, "SSH bastion [user@]host[:port]")
	fs.StringVar(&cfg.Tunnel.KeyPath, "ssh-key", cfg.Tunnel.KeyPath, "SSH private key file")
	fs.BoolVar(&cfg.Tunnel.PromptPass, "ssh-password", cfg.Tunnel.PromptPass, "Prompt for the SSH password")
	fs.BoolVar(&cfg.Tunnel.UseAgent, "ssh-agent", cfg.Tunnel.UseAgent, "Use the SSH agent")
	fs.BoolVar(&cfg.Tunnel.StrictHostKey, "strict-hostkey", cfg.Tunnel.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.Tunnel.KnownHosts, "known-hosts", cfg.Tunnel.KnownHosts, "Custom known_hosts path")
	fs.StringVar(&cfg.Proxy.Address, "proxy", cfg.Proxy.Address, "SOCKS5 proxy host:port")

	// ── fetch ────────────────────────────────────────────────────
	fs.IntVar(&cfg.Fetch.Concurrency, "fetch-concurrency", cfg.Fetch.Concurrency, "Segments in flight")
	fs.IntVar(&cfg.Fetch.CacheSize, "cache-size", cfg.Fetch.CacheSize, "Decoded segments kept in memory")
	fs.Float64Var(&cfg.Fetch.RateLimit, "rate-limit", cfg.Fetch.RateLimit, "Download limit in bytes/s (0 = none)")
	fs.BoolVar(&cfg.Fetch.Verify, "verify", cfg.Fetch.Verify, "Check CRCs and PAR2 sets")

	// ── output ───────────────────────────────────────────────────
	var louder int
	fs.CountVarP(&louder, "verbose", "v", "Increase verbosity (repeatable)")
	var quiet bool
	fs.BoolVarP(&quiet, "quiet", "q", false, "Errors only")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "Log as JSON lines")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on host:port")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&dryRun, "dry-run", false, "Validate configuration and exit")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs, stderr) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp || len(args) == 0 {
		printUsage(fs, stderr)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "gonntp %s\n", version)
		return nil
	}

	if strings.Contains(s.Host, ":") {
		host, port, err := util.ParseHostPort(s.Host, s.Port)
		if err != nil {
			return err
		}
		s.Host = host
		if !fs.Changed("port") {
			s.Port = port
		}
	}
	if s.TLS && !fs.Changed("port") && s.Port == config.DefaultPlainPort {
		s.Port = config.DefaultTLSPort
	}
	cfg.Verbose += louder
	if quiet {
		cfg.Verbose = 0
	}
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return err
	}

	cmd, err := core.ParseCommand(fs.Args())
	if err != nil {
		return err
	}

	if askPass && !dryRun {
		pw, err := tunnel.PromptPassword(fmt.Sprintf("Password for %s: ", s))
		if err != nil {
			return err
		}
		s.Password = pw
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dryRun {
		fmt.Fprintf(stdout, "%s via %s, %d connection(s): %s\n", s, route(cfg), cfg.Pool.MaxSize, cmd)
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	logger.SetJSON(cfg.LogJSON)

	var m *metrics.Collector
	if cfg.MetricsAddr != "" {
		m = metrics.New()
	}

	mode, err := core.Build(cfg, cmd, core.Deps{Logger: logger, Metrics: m, Out: stdout})
	if err != nil {
		return err
	}
	if m != nil {
		stop, err := serveMetrics(cfg.MetricsAddr, m, mode, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	start := time.Now()
	err = mode.Run(ctx)
	logger.Verbose("%s finished in %v", cmd.Name, time.Since(start).Round(time.Millisecond))
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("interrupted")
	}
	return err
}

// ── helpers ──────────────────────────────────────────────────────────

// configPath finds --config ahead of the full flag parse.
func configPath(args []string) string {
	for i, a := range args {
		switch {
		case a == "--":
			return ""
		case a == "--config" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

func route(cfg *config.Config) string {
	switch {
	case cfg.Tunnel.Enabled:
		return fmt.Sprintf("ssh %s@%s", cfg.Tunnel.User, util.FormatAddr(cfg.Tunnel.Host, cfg.Tunnel.Port))
	case cfg.Proxy.Address != "":
		return "socks5 " + cfg.Proxy.Address
	default:
		return "direct"
	}
}

// serveMetrics exposes the collector and, for pooled modes, the pool
// gauges on /metrics.  The returned func stops the listener.
func serveMetrics(addr string, m *metrics.Collector, mode core.Mode, logger *util.Logger) (func(), error) {
	var gauges metrics.PoolGauges
	if p, ok := mode.(core.Pooled); ok {
		gauges = p.Pool().Gauges
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewExporter(m, "", gauges)); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics: %v", err)
		}
	}()
	logger.Verbose("metrics on http://%s/metrics", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, `gonntp – read-only NNTP client v%s

Usage:
  gonntp [options] <command> [args]

Commands:
`, version)
	for _, c := range core.Commands() {
		fmt.Fprintf(w, "  %s\n", c)
	}
	fmt.Fprintf(w, "\nOptions:\n")
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  gonntp -H news.example.com info
  gonntp -H news.example.com --tls -u me --ask-pass group alt.binaries.test
  gonntp -H news.example.com xover alt.test 1000-1100
  gonntp -H news.example.com -c 20 fetch post.nzb ./out
  gonntp -T admin@bastion -H news.internal body 'part1@example.com'
`)
}
