package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

const keyComment = "crucible"

// KeyManager keeps the ed25519 key pair of one environment under
// <dir>/.crucible/ssh.
type KeyManager struct {
	dir string
}

// NewKeyManager returns a KeyManager for the environment in dir.
func NewKeyManager(dir string) *KeyManager {
	return &KeyManager{dir: dir}
}

// Dir is the directory holding the key pair.
func (m *KeyManager) Dir() string {
	return filepath.Join(m.dir, ".crucible", "ssh")
}

// PrivateKeyPath is the path of the private key file.
func (m *KeyManager) PrivateKeyPath() string {
	return filepath.Join(m.Dir(), "id_ed25519")
}

// PublicKeyPath is the path of the public key file.
func (m *KeyManager) PublicKeyPath() string {
	return m.PrivateKeyPath() + ".pub"
}

// EnsureKeyPair generates the key pair unless both files exist.
func (m *KeyManager) EnsureKeyPair() error {
	if m.KeyPairExists() {
		return nil
	}

	if err := os.MkdirAll(m.Dir(), 0o700); err != nil {
		return fmt.Errorf("failed to create ssh directory: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, keyComment)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(m.PrivateKeyPath(), pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		_ = os.Remove(m.PrivateKeyPath())
		return fmt.Errorf("failed to convert public key: %w", err)
	}
	if err := os.WriteFile(m.PublicKeyPath(), []byte(AuthorizedKey(sshPub)+"\n"), 0o644); err != nil {
		_ = os.Remove(m.PrivateKeyPath())
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

// KeyPairExists reports whether both key files exist.
func (m *KeyManager) KeyPairExists() bool {
	_, privErr := os.Stat(m.PrivateKeyPath())
	_, pubErr := os.Stat(m.PublicKeyPath())
	return privErr == nil && pubErr == nil
}

// Signer ensures the key pair and loads its private key.
func (m *KeyManager) Signer() (ssh.Signer, error) {
	if err := m.EnsureKeyPair(); err != nil {
		return nil, err
	}
	return LoadSigner(m.PrivateKeyPath())
}

// Remove deletes the key pair.
func (m *KeyManager) Remove() error {
	err := os.RemoveAll(m.Dir())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove ssh keys: %w", err)
	}
	return nil
}

// LoadSigner reads an unencrypted private key.
func LoadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key %s: %w", path, err)
	}
	return signer, nil
}

// AuthorizedKey formats pub as an authorized_keys line without the
// trailing newline.
func AuthorizedKey(pub ssh.PublicKey) string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub))) + " " + keyComment
}
