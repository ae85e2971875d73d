package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/awnumar/memguard"
)

const (
	fieldFormatTag = "encv1"
	fieldPrefix    = fieldFormatTag + ":"

	// FieldNonceLen is the GCM nonce size for encrypted fields.
	FieldNonceLen = 16
)

var (
	ErrMalformedCiphertext  = errors.New("malformed ciphertext")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// EncryptedValue is the parsed form of a tagged field. Plaintext never takes
// this shape, so holding one is proof the value is already encrypted.
type EncryptedValue struct {
	Nonce      []byte
	Tag        []byte
	Ciphertext []byte
}

// String renders the self-describing wire form:
// encv1:<nonce>:<tag>:<ciphertext>, each component base64.
func (v EncryptedValue) String() string {
	enc := base64.StdEncoding
	return fieldPrefix + enc.EncodeToString(v.Nonce) + ":" + enc.EncodeToString(v.Tag) + ":" + enc.EncodeToString(v.Ciphertext)
}

// IsEncrypted reports whether value carries the field cipher's format tag.
// Anything without the tag is treated as plaintext.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, fieldPrefix)
}

// ParseEncryptedValue splits a tagged value into its components. The wrong
// component count or undecodable base64 is malformed, not an auth failure.
func ParseEncryptedValue(value string) (EncryptedValue, error) {
	if !IsEncrypted(value) {
		return EncryptedValue{}, fmt.Errorf("%w: missing %q tag", ErrMalformedCiphertext, fieldFormatTag)
	}

	parts := strings.Split(strings.TrimPrefix(value, fieldPrefix), ":")
	if len(parts) != 3 {
		return EncryptedValue{}, fmt.Errorf("%w: want 3 components, got %d", ErrMalformedCiphertext, len(parts))
	}

	enc := base64.StdEncoding
	nonce, err := enc.DecodeString(parts[0])
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("%w: decode nonce: %v", ErrMalformedCiphertext, err)
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("%w: decode auth tag: %v", ErrMalformedCiphertext, err)
	}
	ciphertext, err := enc.DecodeString(parts[2])
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("%w: decode ciphertext: %v", ErrMalformedCiphertext, err)
	}
	if len(nonce) != FieldNonceLen {
		return EncryptedValue{}, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrMalformedCiphertext, FieldNonceLen, len(nonce))
	}

	return EncryptedValue{Nonce: nonce, Tag: tag, Ciphertext: ciphertext}, nil
}

// FieldCipher encrypts and decrypts individual string fields under the
// resolved master key using AES-256-GCM.
type FieldCipher struct {
	key *memguard.LockedBuffer
}

func NewFieldCipher(key *memguard.LockedBuffer) *FieldCipher {
	return &FieldCipher{key: key}
}

// EncryptField returns the tagged encoding of plaintext under a fresh random
// nonce. Empty and already-encrypted values pass through unchanged, which
// makes the operation idempotent.
func (c *FieldCipher) EncryptField(plaintext string) (string, error) {
	if plaintext == "" || IsEncrypted(plaintext) {
		return plaintext, nil
	}

	aead, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, FieldNonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	split := len(sealed) - aead.Overhead()
	return EncryptedValue{
		Nonce:      nonce,
		Tag:        sealed[split:],
		Ciphertext: sealed[:split],
	}.String(), nil
}

// DecryptField undoes EncryptField. Empty and untagged values pass through
// unchanged. Authentication failure means wrong key, corruption, or
// tampering; no partial plaintext ever escapes.
func (c *FieldCipher) DecryptField(value string) (string, error) {
	if value == "" || !IsEncrypted(value) {
		return value, nil
	}

	parsed, err := ParseEncryptedValue(value)
	if err != nil {
		return "", err
	}

	aead, err := c.aead()
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(parsed.Ciphertext)+len(parsed.Tag))
	sealed = append(sealed, parsed.Ciphertext...)
	sealed = append(sealed, parsed.Tag...)

	plaintext, err := aead.Open(nil, parsed.Nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return string(plaintext), nil
}

func (c *FieldCipher) aead() (cipher.AEAD, error) {
	if c == nil || c.key == nil || !c.key.IsAlive() {
		return nil, fmt.Errorf("field cipher key is not available")
	}
	if c.key.Size() != MasterKeyLen {
		return nil, fmt.Errorf("field cipher key must be %d bytes, got %d", MasterKeyLen, c.key.Size())
	}

	block, err := aes.NewCipher(c.key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("construct aes-256: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, FieldNonceLen)
	if err != nil {
		return nil, fmt.Errorf("construct aes-256-gcm: %w", err)
	}
	return aead, nil
}

// Destroy wipes the cipher's key material.
func (c *FieldCipher) Destroy() {
	if c == nil || c.key == nil {
		return
	}
	if c.key.IsAlive() {
		c.key.Destroy()
	}
	c.key = nil
}
