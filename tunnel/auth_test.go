package tunnel

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "gonntp/internal/errors"
	"gonntp/util"
)

// TestBuildAuthMethods_ExplicitKey verifies that a key file is loaded.
func TestBuildAuthMethods_ExplicitKey(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_test")
	writeTestKey(t, keyPath)

	cfg := &BastionConfig{KeyPath: keyPath}
	methods, err := BuildAuthMethods(cfg)
	if err != nil {
		t.Fatalf("BuildAuthMethods: %v", err)
	}
	if len(methods) == 0 {
		t.Fatal("expected at least one auth method")
	}
}

// TestBuildAuthMethods_MissingKey verifies a clear error message.
func TestBuildAuthMethods_MissingKey(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	cfg := &BastionConfig{KeyPath: "/nonexistent/key"}
	_, err := BuildAuthMethods(cfg)
	if err == nil {
		t.Fatal("expected error for missing key")
	}
}

// TestCredentials_PasswordPromptedOnce verifies that a reconnect reuses
// the password instead of asking the terminal again.
func TestCredentials_PasswordPromptedOnce(t *testing.T) {
	c := newCredentials(&BastionConfig{User: "news", Host: "gw", PromptPass: true})
	var prompts []string
	c.prompt = func(p string) (string, error) {
		prompts = append(prompts, p)
		return "secret", nil
	}

	for i := 0; i < 3; i++ {
		methods, err := c.methods()
		if err != nil {
			t.Fatalf("methods #%d: %v", i, err)
		}
		if len(methods) != 1 {
			t.Fatalf("methods #%d: got %d, want 1", i, len(methods))
		}
	}
	if len(prompts) != 1 {
		t.Fatalf("prompted %d times, want 1", len(prompts))
	}
	if prompts[0] != "SSH password for news@gw: " {
		t.Errorf("prompt = %q", prompts[0])
	}
}

// TestCredentials_PasswordPromptError verifies a failed prompt is not
// cached, so the next connect asks again.
func TestCredentials_PasswordPromptError(t *testing.T) {
	c := newCredentials(&BastionConfig{PromptPass: true})
	calls := 0
	c.prompt = func(string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("no terminal")
		}
		return "secret", nil
	}

	if _, err := c.methods(); err == nil {
		t.Fatal("expected prompt error")
	}
	if _, err := c.methods(); err != nil {
		t.Fatalf("second methods: %v", err)
	}
	if calls != 2 {
		t.Errorf("prompted %d times, want 2", calls)
	}
}

// TestCredentials_EncryptedKey verifies that an encrypted key asks for
// its passphrase once and is reused on reconnect.
func TestCredentials_EncryptedKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_enc")
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "test@gonntp", []byte("hunter2"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatal(err)
	}

	c := newCredentials(&BastionConfig{KeyPath: keyPath})
	calls := 0
	c.prompt = func(string) (string, error) {
		calls++
		return "hunter2", nil
	}

	for i := 0; i < 2; i++ {
		if _, err := c.methods(); err != nil {
			t.Fatalf("methods #%d: %v", i, err)
		}
	}
	if calls != 1 {
		t.Errorf("prompted %d times, want 1", calls)
	}
}

// TestCredentials_WrongPassphrase verifies a bad passphrase is an error.
func TestCredentials_WrongPassphrase(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_enc")
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("right"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatal(err)
	}

	c := newCredentials(&BastionConfig{KeyPath: keyPath})
	c.prompt = func(string) (string, error) { return "wrong", nil }
	if _, err := c.methods(); err == nil {
		t.Fatal("expected error for wrong passphrase")
	}
}

// TestHostKeyCallback_Insecure verifies that InsecureIgnoreHostKey is used
// when StrictHostKey is false.
func TestHostKeyCallback_Insecure(t *testing.T) {
	cfg := &BastionConfig{StrictHostKey: false}
	cb, err := hostKeyCallback(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if cb == nil {
		t.Fatal("callback should not be nil")
	}
}

// TestHostKeyCallback_StrictMissingFile verifies strict mode needs a
// readable known_hosts file.
func TestHostKeyCallback_StrictMissingFile(t *testing.T) {
	cfg := &BastionConfig{
		StrictHostKey: true,
		KnownHosts:    filepath.Join(t.TempDir(), "known_hosts"),
	}
	if _, err := hostKeyCallback(cfg); err == nil {
		t.Fatal("expected error for missing known_hosts")
	}
}

// TestBastion_ConnectRefused verifies that an unreachable gateway
// surfaces a transport error and leaves the tunnel down.
func TestBastion_ConnectRefused(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_test")
	writeTestKey(t, keyPath)

	port, err := freePort()
	if err != nil {
		t.Fatal(err)
	}

	b := NewBastion(&BastionConfig{
		User:        "news",
		Host:        "127.0.0.1",
		Port:        port,
		KeyPath:     keyPath,
		ConnTimeout: time.Second,
	}, util.Nop())

	err = b.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect error")
	}
	var te *ncerr.TransportError
	if !ncerr.As(err, &te) {
		t.Errorf("expected TransportError, got %T: %v", err, err)
	}
	if b.IsAlive() {
		t.Error("tunnel should not be alive")
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

// ── helpers ──────────────────────────────────────────────────────────

// writeTestKey writes a freshly generated, unencrypted ed25519 key.
func writeTestKey(t *testing.T, path string) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "test@gonntp")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatal(err)
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
