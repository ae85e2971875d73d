package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/artik0din/mcp-mail-manager/internal/crypto"
)

var ErrAccountNotFound = errors.New("account not found")

// EventRecorder receives audit events for account mutations. A nil recorder
// disables auditing.
type EventRecorder interface {
	Record(ctx context.Context, action, targetID string, details map[string]any) error
}

// Store owns the on-disk account document. Sensitive auth fields are
// encrypted before every write and decrypted after every read; everything
// else stays plaintext and inspectable.
//
// Mutations are whole-document read-modify-write cycles serialized by an
// in-process mutex. Concurrent writers from separate processes can still
// race; one active process at a time is assumed.
type Store struct {
	path     string
	cipher   *crypto.FieldCipher
	logger   *slog.Logger
	recorder EventRecorder

	mu sync.Mutex
}

func Open(path string, cipher *crypto.FieldCipher, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open store: empty path")
	}
	if cipher == nil {
		return nil, fmt.Errorf("open store: field cipher is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("open store: create parent dir: %w", err)
	}

	return &Store{path: path, cipher: cipher, logger: logger}, nil
}

// AttachRecorder enables audit events for subsequent mutations.
func (s *Store) AttachRecorder(r EventRecorder) {
	s.recorder = r
}

func (s *Store) Path() string {
	return s.path
}

// List returns every account with sensitive fields decrypted. A field that
// fails to decrypt is logged and left empty; the rest of the record, other
// sensitive fields included, stays intact.
func (s *Store) List(ctx context.Context) ([]Account, error) {
	accounts, err := s.readRaw()
	if err != nil {
		return nil, err
	}

	for i := range accounts {
		s.decryptAccount(ctx, &accounts[i])
	}
	return accounts, nil
}

// Get returns the decrypted account with the given identifier, or
// ErrAccountNotFound. Callers treat absence as an empty result, not a
// failure.
func (s *Store) Get(ctx context.Context, id string) (Account, error) {
	accounts, err := s.readRaw()
	if err != nil {
		return Account{}, err
	}

	for i := range accounts {
		if accounts[i].ID == id {
			s.decryptAccount(ctx, &accounts[i])
			return accounts[i], nil
		}
	}
	return Account{}, fmt.Errorf("%w: %q", ErrAccountNotFound, id)
}

// Upsert inserts or replaces the account keyed by its derived identifier.
// Provider presets fill fields the caller left unset, every sensitive field
// is encrypted, and the full document is rewritten.
func (s *Store) Upsert(ctx context.Context, acct Account) (Account, error) {
	if acct.Email == "" {
		return Account{}, fmt.Errorf("upsert account: email is required")
	}

	acct.ID = AccountID(acct.Email)
	if acct.Provider == "" {
		acct.Provider = DetectProvider(acct.Email)
	}
	if acct.Auth.Username == "" {
		acct.Auth.Username = acct.Email
	}
	applyPreset(&acct)
	if acct.Auth.Kind == "" {
		acct.Auth.Kind = AuthPassword
	}

	for name, field := range acct.Auth.sensitiveFields() {
		sealed, err := s.cipher.EncryptField(*field)
		if err != nil {
			return Account{}, fmt.Errorf("upsert account %q: encrypt %s: %w", acct.ID, name, err)
		}
		*field = sealed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.readRaw()
	if err != nil {
		return Account{}, err
	}

	now := time.Now().UTC()
	acct.UpdatedAt = now

	action := "account.create"
	replaced := false
	for i := range accounts {
		if accounts[i].ID == acct.ID {
			acct.CreatedAt = accounts[i].CreatedAt
			accounts[i] = acct
			action = "account.update"
			replaced = true
			break
		}
	}
	if !replaced {
		acct.CreatedAt = now
		accounts = append(accounts, acct)
	}

	if err := s.writeRaw(accounts); err != nil {
		return Account{}, err
	}

	if err := s.record(ctx, action, acct.ID, map[string]any{"provider": acct.Provider, "auth_kind": string(acct.Auth.Kind)}); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// Remove deletes the account with the given identifier and reports whether
// anything was removed.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.readRaw()
	if err != nil {
		return false, err
	}

	kept := accounts[:0]
	removed := false
	for _, acct := range accounts {
		if acct.ID == id {
			removed = true
			continue
		}
		kept = append(kept, acct)
	}
	if !removed {
		return false, nil
	}

	if err := s.writeRaw(kept); err != nil {
		return false, err
	}
	if err := s.record(ctx, "account.remove", id, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) decryptAccount(ctx context.Context, acct *Account) {
	for name, field := range acct.Auth.sensitiveFields() {
		plain, err := s.cipher.DecryptField(*field)
		if err != nil {
			s.logger.WarnContext(ctx, "dropping undecryptable field",
				slog.String("account", acct.ID),
				slog.String("field", name),
				slog.Any("error", err),
			)
			*field = ""
			continue
		}
		*field = plain
	}
}

func (s *Store) readRaw() ([]Account, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read account document: %w", err)
	}

	var accounts []Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("parse account document %q: %w", s.path, err)
	}
	return accounts, nil
}

// writeRaw atomically replaces the whole document: write to a temp file in
// the same directory, then rename over the target.
func (s *Store) writeRaw(accounts []Account) error {
	if accounts == nil {
		accounts = []Account{}
	}
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode account document: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".accounts-*.json")
	if err != nil {
		return fmt.Errorf("write account document: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return fmt.Errorf("write account document: set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write account document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write account document: close: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write account document: rename: %w", err)
	}
	return nil
}

func (s *Store) record(ctx context.Context, action, targetID string, details map[string]any) error {
	if s.recorder == nil {
		return nil
	}
	if err := s.recorder.Record(ctx, action, targetID, details); err != nil {
		return fmt.Errorf("record %s event: %w", action, err)
	}
	return nil
}
