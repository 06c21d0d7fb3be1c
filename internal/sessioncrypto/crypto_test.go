package sessioncrypto

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureKeyFileAndRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keys", "session.pem")
	created, err := EnsureKeyFile(path)
	if err != nil {
		t.Fatalf("ensure key file: %v", err)
	}
	if !created {
		t.Fatalf("expected key file to be created")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("key file mode = %o want 600", perm)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer c.Close()

	plaintext := []byte("user=alice;role=admin")
	ciphertext, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(ciphertext, []byte("alice")) {
		t.Fatalf("ciphertext leaks plaintext")
	}
	out, err := c.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(out, plaintext) {
		t.Fatalf("decrypt = %q want %q", out, plaintext)
	}

	again, err := EnsureKeyFile(path)
	if err != nil {
		t.Fatalf("ensure existing key file: %v", err)
	}
	if again {
		t.Fatalf("expected existing key file to be left untouched")
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer reloaded.Close()
	out, err = reloaded.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt with reloaded key: %v", err)
	}
	if !bytes.Equal(out, plaintext) {
		t.Fatalf("reloaded decrypt = %q want %q", out, plaintext)
	}
}

func TestNilCryptoPassesThrough(t *testing.T) {
	t.Parallel()

	var c *Crypto
	if c.Enabled() {
		t.Fatalf("nil crypto must report disabled")
	}
	in := []byte("plain")
	out, err := c.Encrypt(in)
	if err != nil || !bytes.Equal(out, in) {
		t.Fatalf("encrypt passthrough = %q, %v", out, err)
	}
	out, err = c.Decrypt(in)
	if err != nil || !bytes.Equal(out, in) {
		t.Fatalf("decrypt passthrough = %q, %v", out, err)
	}
	c.Close()
}

func TestDecryptGarbageFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.pem")
	if _, err := EnsureKeyFile(path); err != nil {
		t.Fatalf("ensure key file: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer c.Close()
	if _, err := c.Decrypt([]byte("definitely not ciphertext")); err == nil {
		t.Fatalf("expected garbage ciphertext to fail")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.pem"))
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
