package core

import (
	"fmt"
	"io"
	"strings"
	"time"

	"gonntp/config"
	"gonntp/internal/metrics"
	"gonntp/internal/pool"
	"gonntp/internal/session"
	"gonntp/internal/transport"
	"gonntp/tunnel"
	"gonntp/util"
)

// closeTimeout bounds the QUIT exchange with idle sessions on exit.
const closeTimeout = 5 * time.Second

// Command is a parsed subcommand with its positional arguments.
type Command struct {
	Name string
	Args []string
}

func (c Command) String() string { return strings.Join(append([]string{c.Name}, c.Args...), " ") }

// usage lists every subcommand with its arguments.
var usage = map[string]string{
	"info":    "info",
	"group":   "group <name>",
	"article": "article <message-id|group:number>",
	"head":    "head <message-id|group:number>",
	"body":    "body <message-id|group:number>",
	"xover":   "xover <group> [range]",
	"fetch":   "fetch <file.nzb> <outdir>",
}

// Commands lists the subcommand synopses in help order.
func Commands() []string {
	return []string{
		usage["info"], usage["group"], usage["article"], usage["head"],
		usage["body"], usage["xover"], usage["fetch"],
	}
}

// ParseCommand checks the subcommand name and argument count.
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return Command{}, fmt.Errorf("no command given (want one of: info, group, article, head, body, xover, fetch)")
	}
	c := Command{Name: strings.ToLower(args[0]), Args: args[1:]}
	lo, hi := 0, 0
	switch c.Name {
	case "info":
	case "group", "article", "head", "body":
		lo, hi = 1, 1
	case "xover":
		lo, hi = 1, 2
	case "fetch":
		lo, hi = 2, 2
	default:
		return Command{}, fmt.Errorf("unknown command %q", args[0])
	}
	if n := len(c.Args); n < lo || n > hi {
		return Command{}, fmt.Errorf("usage: %s", usage[c.Name])
	}
	return c, nil
}

// Deps are the collaborators supplied by the caller.
type Deps struct {
	Logger  *util.Logger
	Metrics *metrics.Collector
	Out     io.Writer // default os.Stdout
}

// Build constructs the Mode for cmd.  The returned mode owns a fresh
// pool; nothing is dialled until Run.
func Build(cfg *config.Config, cmd Command, deps Deps) (Mode, error) {
	logger := deps.Logger
	if logger == nil {
		logger = util.Nop()
	}

	dialer := buildDialer(cfg, logger)
	p := pool.New(cfg,
		pool.WithLogger(logger),
		pool.WithMetrics(deps.Metrics),
		pool.WithSessionOptions(session.Options{
			Dialer:  dialer,
			Logger:  logger,
			Metrics: deps.Metrics,
		}),
	)
	b := base{pool: p, dialer: dialer, logger: logger, out: deps.Out}

	switch cmd.Name {
	case "info":
		return &InfoMode{base: b, Server: cfg.Server}, nil
	case "group":
		return &GroupMode{base: b, Group: cmd.Args[0]}, nil
	case "article", "head", "body":
		return &ArticleMode{base: b, ID: normalizeID(cmd.Args[0]), Part: cmd.Name}, nil
	case "xover":
		m := &XOverMode{base: b, Group: cmd.Args[0]}
		if len(cmd.Args) > 1 {
			m.Range = cmd.Args[1]
		}
		return m, nil
	case "fetch":
		return buildFetch(cfg, b, deps, cmd.Args[0], cmd.Args[1]), nil
	default:
		b.shutdown()
		return nil, fmt.Errorf("unknown command %q", cmd.Name)
	}
}

// normalizeID wraps bare message-ids ("a@b") in angle brackets and
// leaves article numbers alone.
func normalizeID(id string) string {
	if strings.Contains(id, "@") && !strings.HasPrefix(id, "<") {
		return "<" + id + ">"
	}
	return id
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the right transport.Dialer for the given config:
// SSH bastion, SOCKS5 proxy or direct TCP.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.Tunnel.Enabled {
		return transport.NewSSHDialer(tunnel.NewBastion(&tunnel.BastionConfig{
			User:          cfg.Tunnel.User,
			Host:          cfg.Tunnel.Host,
			Port:          cfg.Tunnel.Port,
			KeyPath:       cfg.Tunnel.KeyPath,
			PromptPass:    cfg.Tunnel.PromptPass,
			UseAgent:      cfg.Tunnel.UseAgent,
			StrictHostKey: cfg.Tunnel.StrictHostKey,
			KnownHosts:    cfg.Tunnel.KnownHosts,
			ConnTimeout:   cfg.Server.ConnectTimeout,
			KeepAlive:     cfg.Tunnel.KeepAlive,
		}, logger))
	}
	if cfg.Proxy.Address != "" {
		return &transport.SOCKSDialer{
			Address:  cfg.Proxy.Address,
			Username: cfg.Proxy.Username,
			Password: cfg.Proxy.Password,
			Timeout:  cfg.Server.ConnectTimeout,
		}
	}
	return &transport.TCPDialer{Timeout: cfg.Server.ConnectTimeout}
}
