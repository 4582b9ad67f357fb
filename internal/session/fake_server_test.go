package session

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/require"

	"gonntp/config"
)

// closeConn makes the fake server hang up instead of replying.
const closeConn = "\x00close"

// fakeServer is an in-process NNTP server.  handler maps one command
// line to the raw reply text; an empty reply means silence.  A reply
// starting with "206 " switches the connection to DEFLATE afterwards.
type fakeServer struct {
	ln       net.Listener
	greeting string
	handler  func(cmd string) string

	mu       sync.Mutex
	commands []string
	conns    []net.Conn
}

func newFakeServer(t *testing.T, handler func(cmd string) string) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeServer{ln: ln, greeting: "200 news.example.com ready", handler: handler}
	go f.accept()
	t.Cleanup(f.close)
	return f
}

func (f *fakeServer) accept() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		go f.serve(conn)
	}
}

func (f *fakeServer) serve(conn net.Conn) {
	defer conn.Close()

	var w io.Writer = conn
	flush := func() error { return nil }
	r := bufio.NewReader(conn)

	if _, err := io.WriteString(w, f.greeting+"\r\n"); err != nil {
		return
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		f.mu.Unlock()

		reply := f.handler(cmd)
		switch reply {
		case closeConn:
			return
		case "":
			continue
		}
		if _, err := io.WriteString(w, reply); err != nil {
			return
		}
		if err := flush(); err != nil {
			return
		}
		if strings.HasPrefix(reply, "206 ") {
			fw, _ := flate.NewWriter(conn, flate.BestSpeed)
			w, flush = fw, fw.Flush
			r = bufio.NewReader(flate.NewReader(r))
		}
	}
}

func (f *fakeServer) close() {
	f.ln.Close()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.Close()
	}
}

// Commands returns every command line received so far.
func (f *fakeServer) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// Config returns a plaintext server config pointing at f with short
// timeouts.
func (f *fakeServer) Config() config.ServerConfig {
	host, port, _ := net.SplitHostPort(f.ln.Addr().String())
	cfg := config.PlainServer(host, "", "")
	cfg.Port, _ = strconv.Atoi(port)
	cfg.ConnectTimeout = 2 * time.Second
	cfg.SingleLineTimeout = 2 * time.Second
	cfg.MultiLineTimeout = 2 * time.Second
	return cfg
}

// dial connects to f; mutate may adjust the config first.
func dial(t *testing.T, f *fakeServer, mutate func(*config.ServerConfig)) *Session {
	t.Helper()
	cfg := f.Config()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := Connect(context.Background(), cfg, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// dialAnon connects and authenticates anonymously.
func dialAnon(t *testing.T, f *fakeServer) *Session {
	t.Helper()
	s := dial(t, f, nil)
	require.NoError(t, s.Authenticate(context.Background()))
	return s
}

// replies builds a handler from exact command → reply pairs; unknown
// commands get 500.
func replies(m map[string]string) func(string) string {
	return func(cmd string) string {
		if r, ok := m[cmd]; ok {
			return r
		}
		if cmd == "QUIT" {
			return "205 bye\r\n"
		}
		return "500 unknown command\r\n"
	}
}
