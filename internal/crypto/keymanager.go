package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"github.com/awnumar/memguard"
)

// rawSecretLen is the entropy of a generated master secret before text
// encoding.
const rawSecretLen = 32

var ErrKeyFileUnreadable = errors.New("key file unreadable")

// KeySource reports where the master secret came from.
type KeySource string

const (
	KeySourceConfig    KeySource = "config"
	KeySourceFile      KeySource = "file"
	KeySourceGenerated KeySource = "generated"
)

// KeyConfig is the explicit configuration for master key resolution. It is
// constructed at startup and passed in; the key manager reads no environment
// of its own.
type KeyConfig struct {
	// Secret is an externally supplied master secret. When set it wins over
	// the key file, which is neither read nor written.
	Secret string

	// KeyFilePath is the user-scoped file holding the persisted raw secret.
	KeyFilePath string

	Params KDFParams
}

// KeyManager resolves the process-wide master key. Resolution runs the slow
// Argon2id derivation, so the result is cached: call Resolve once and reuse.
type KeyManager struct {
	cfg KeyConfig

	mu     sync.Mutex
	key    *memguard.LockedBuffer
	source KeySource
}

func NewKeyManager(cfg KeyConfig) *KeyManager {
	if cfg.Params == (KDFParams{}) {
		cfg.Params = DefaultKDFParams()
	}
	return &KeyManager{cfg: cfg}
}

// Resolve returns the derived 32-byte master key. Resolution order: the
// configured secret, then the key file, then a freshly generated secret that
// is persisted to the key file with owner-only permissions. A key file that
// exists but cannot be read or decoded is fatal; regenerating over it would
// orphan every previously encrypted field.
func (m *KeyManager) Resolve() (*memguard.LockedBuffer, KeySource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.key != nil && m.key.IsAlive() {
		return m.key, m.source, nil
	}

	secret, source, err := m.resolveSecret()
	if err != nil {
		return nil, "", err
	}
	defer memguard.WipeBytes(secret)

	raw, err := DeriveMasterKey(secret, m.cfg.Params)
	if err != nil {
		return nil, "", fmt.Errorf("derive master key: %w", err)
	}
	defer memguard.WipeBytes(raw)

	m.key = memguard.NewBufferFromBytes(raw)
	m.source = source
	return m.key, m.source, nil
}

func (m *KeyManager) resolveSecret() ([]byte, KeySource, error) {
	if m.cfg.Secret != "" {
		return []byte(m.cfg.Secret), KeySourceConfig, nil
	}

	if m.cfg.KeyFilePath == "" {
		return nil, "", fmt.Errorf("resolve master secret: no secret configured and no key file path set")
	}

	secret, err := readKeyFile(m.cfg.KeyFilePath)
	if err == nil {
		return secret, KeySourceFile, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, "", err
	}

	secret, err = generateKeyFile(m.cfg.KeyFilePath)
	if err != nil {
		return nil, "", err
	}
	return secret, KeySourceGenerated, nil
}

// Destroy wipes the cached key material.
func (m *KeyManager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.key != nil && m.key.IsAlive() {
		m.key.Destroy()
	}
	m.key = nil
}

func (m *KeyManager) KeyFilePath() string {
	return m.cfg.KeyFilePath
}

// KeyFileExists reports whether the persisted key file is present on disk.
func (m *KeyManager) KeyFileExists() (bool, error) {
	if m.cfg.KeyFilePath == "" {
		return false, nil
	}
	if _, err := os.Stat(m.cfg.KeyFilePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat key file: %w", err)
	}
	return true, nil
}

func readKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read %q: %v", ErrKeyFileUnreadable, path, err)
	}

	secret := bytes.TrimSpace(data)
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: %q is empty", ErrKeyFileUnreadable, path)
	}
	if bytes.ContainsRune(secret, 0) || !utf8.Valid(secret) {
		return nil, fmt.Errorf("%w: %q holds non-text content", ErrKeyFileUnreadable, path)
	}
	return secret, nil
}

func generateKeyFile(path string) ([]byte, error) {
	raw := make([]byte, rawSecretLen)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("generate master secret: %w", err)
	}
	defer memguard.WipeBytes(raw)

	secret := []byte(base64.StdEncoding.EncodeToString(raw))

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("write key file: create parent dir: %w", err)
	}

	// O_EXCL with 0600 sets owner-only permissions atomically with creation
	// and refuses to clobber a file written by a concurrent process.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return readKeyFile(path)
		}
		return nil, fmt.Errorf("write key file: %w", err)
	}

	if _, err := f.Write(append(secret, '\n')); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("write key file: close: %w", err)
	}
	return secret, nil
}
