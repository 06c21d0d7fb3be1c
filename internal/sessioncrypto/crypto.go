// Package sessioncrypto encrypts session payloads at rest with kryptograf
// envelope encryption. Key material lives in a PEM key file managed by
// kryptograf/keymgmt.
package sessioncrypto

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
)

const (
	descriptorName    = "filesession/data"
	descriptorContext = "filesession/data"
)

// ErrNoKeyMaterial indicates the key file lacks a root key or descriptor.
var ErrNoKeyMaterial = errors.New("sessioncrypto: key material missing")

// Crypto holds the reconstructed data-encryption key used for every session
// file.
type Crypto struct {
	kg       kryptograf.Kryptograf
	material kryptograf.Material
}

// Load reads the PEM key file at path and reconstructs the session DEK.
func Load(path string) (*Crypto, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sessioncrypto: read key file: %w", err)
	}
	return FromPEM(raw)
}

// FromPEM reconstructs the session DEK from PEM-encoded key material.
func FromPEM(pemBytes []byte) (*Crypto, error) {
	store, err := keymgmt.LoadPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("sessioncrypto: load key material: %w", err)
	}
	root, ok, err := store.RootKey()
	if err != nil {
		return nil, fmt.Errorf("sessioncrypto: read root key: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: root key", ErrNoKeyMaterial)
	}
	desc, ok, err := store.Descriptor(descriptorName)
	if err != nil {
		return nil, fmt.Errorf("sessioncrypto: read descriptor: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: descriptor %s", ErrNoKeyMaterial, descriptorName)
	}
	kg := kryptograf.New(root)
	mat, err := kg.ReconstructDEK([]byte(descriptorContext), desc)
	if err != nil {
		return nil, fmt.Errorf("sessioncrypto: reconstruct DEK: %w", err)
	}
	return &Crypto{kg: kg, material: mat}, nil
}

// EnsureKeyFile creates the key file at path, or adds the session descriptor
// to an existing key bundle. It reports whether the file was written.
func EnsureKeyFile(path string) (bool, error) {
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("sessioncrypto: read key file: %w", err)
	}
	var out []byte
	store, err := keymgmt.LoadPEMInto(existing, &out)
	if err != nil {
		return false, fmt.Errorf("sessioncrypto: load key bundle: %w", err)
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		return false, fmt.Errorf("sessioncrypto: ensure root key: %w", err)
	}
	mat, err := store.EnsureDescriptor(descriptorName, root, []byte(descriptorContext))
	if err != nil {
		return false, fmt.Errorf("sessioncrypto: ensure descriptor: %w", err)
	}
	mat.Zero()
	if err := store.Commit(); err != nil {
		return false, fmt.Errorf("sessioncrypto: commit key material: %w", err)
	}
	if len(out) == 0 {
		out = existing
	}
	if len(out) == 0 {
		raw, err := store.Bytes()
		if err != nil {
			return false, fmt.Errorf("sessioncrypto: serialize key material: %w", err)
		}
		out = raw
	}
	if bytes.Equal(out, existing) {
		return false, nil
	}
	if err := writeAtomic(path, out, 0o600); err != nil {
		return false, err
	}
	return true, nil
}

// Enabled reports whether c encrypts payloads.
func (c *Crypto) Enabled() bool {
	return c != nil
}

// Encrypt seals plaintext. A nil Crypto returns plaintext unchanged.
func (c *Crypto) Encrypt(plaintext []byte) ([]byte, error) {
	if !c.Enabled() {
		return plaintext, nil
	}
	var buf bytes.Buffer
	buf.Grow(len(plaintext) + 256)
	writer, err := c.kg.EncryptWriter(&buf, c.material)
	if err != nil {
		return nil, fmt.Errorf("sessioncrypto: encrypt: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		writer.Close()
		return nil, fmt.Errorf("sessioncrypto: encrypt write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sessioncrypto: encrypt close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decrypt opens ciphertext produced by Encrypt. A nil Crypto returns the input
// unchanged.
func (c *Crypto) Decrypt(ciphertext []byte) ([]byte, error) {
	if !c.Enabled() {
		return ciphertext, nil
	}
	reader, err := c.kg.DecryptReader(bytes.NewReader(ciphertext), c.material)
	if err != nil {
		return nil, fmt.Errorf("sessioncrypto: decrypt: %w", err)
	}
	defer reader.Close()
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sessioncrypto: decrypt read: %w", err)
	}
	return plaintext, nil
}

// Close wipes the in-memory key material.
func (c *Crypto) Close() {
	if c == nil {
		return
	}
	c.material.Zero()
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("sessioncrypto: create key dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return fmt.Errorf("sessioncrypto: write key file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("sessioncrypto: replace key file: %w", err)
	}
	return nil
}
