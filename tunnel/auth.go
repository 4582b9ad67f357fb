package tunnel

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"
)

// defaultKeys are tried, in order, when no method is configured.
var defaultKeys = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// credentials resolves the SSH authentication for one bastion.  A fetch
// may reconnect the tunnel many times; secrets read from the terminal
// (the password and key passphrases) are asked for once and reused.
type credentials struct {
	cfg    *BastionConfig
	prompt func(string) (string, error)

	mu       sync.Mutex
	password *string
	signers  map[string]ssh.Signer
}

func newCredentials(cfg *BastionConfig) *credentials {
	return &credentials{
		cfg:     cfg,
		prompt:  PromptPassword,
		signers: make(map[string]ssh.Signer),
	}
}

// BuildAuthMethods returns the SSH authentication methods for cfg:
// key file, then agent, then password.  With none configured, the
// agent and the usual ~/.ssh keys are tried.
func BuildAuthMethods(cfg *BastionConfig) ([]ssh.AuthMethod, error) {
	return newCredentials(cfg).methods()
}

func (c *credentials) methods() ([]ssh.AuthMethod, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []ssh.AuthMethod
	if c.cfg.KeyPath != "" {
		signer, err := c.signer(c.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", c.cfg.KeyPath, err)
		}
		out = append(out, ssh.PublicKeys(signer))
	}
	if c.cfg.UseAgent {
		m, err := agentMethod()
		if err != nil {
			return nil, fmt.Errorf("ssh-agent: %w", err)
		}
		out = append(out, m)
	}
	if c.cfg.PromptPass {
		if c.password == nil {
			pass, err := c.prompt(fmt.Sprintf("SSH password for %s@%s: ", c.cfg.User, c.cfg.Host))
			if err != nil {
				return nil, err
			}
			c.password = &pass
		}
		out = append(out, ssh.Password(*c.password))
	}
	if len(out) == 0 {
		out = c.fallback()
	}
	if len(out) == 0 {
		return nil, errors.New("no SSH authentication available; use --ssh-key, --ssh-password or --ssh-agent")
	}
	return out, nil
}

// signer parses the private key at path, asking for its passphrase if
// it is encrypted.  Parsed keys are kept for later reconnects.
func (c *credentials) signer(path string) (ssh.Signer, error) {
	if s, ok := c.signers[path]; ok {
		return s, nil
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}
	s, err := ssh.ParsePrivateKey(pem)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		var phrase string
		phrase, err = c.prompt(fmt.Sprintf("Enter passphrase for %s: ", path))
		if err != nil {
			return nil, err
		}
		s, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(phrase))
	}
	if err != nil {
		return nil, fmt.Errorf("parsing key: %w", err)
	}
	c.signers[path] = s
	return s, nil
}

// fallback collects the agent and any of the default key files that
// parse.  Unreadable keys are skipped silently.
func (c *credentials) fallback() []ssh.AuthMethod {
	var out []ssh.AuthMethod
	if m, err := agentMethod(); err == nil {
		out = append(out, m)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return out
	}
	for _, name := range defaultKeys {
		p := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if s, err := c.signer(p); err == nil {
			out = append(out, ssh.PublicKeys(s))
		}
	}
	return out
}

func agentMethod() (ssh.AuthMethod, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, errors.New("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("connecting to agent at %s: %w", sock, err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

// PromptPassword reads a secret from the controlling terminal without
// echo.  It is shared by the bastion and NNTP credential prompts.
func PromptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("cannot prompt for password: stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pass), nil
}

// hostKeyCallback verifies the bastion against known_hosts, or accepts
// any key when strict checking is off.
func hostKeyCallback(cfg *BastionConfig) (ssh.HostKeyCallback, error) {
	if !cfg.StrictHostKey {
		//nolint:gosec // host key checking disabled in config
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := cfg.KnownHosts
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating home directory: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts from %s: %w", file, err)
	}
	return cb, nil
}
