package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// MasterKeyLen is the size of the derived field-encryption key.
	MasterKeyLen = 32

	// masterKeySalt is the fixed application salt for master key
	// derivation. Changing it orphans every existing ciphertext.
	masterKeySalt = "mcp-mail-manager/master-key/v1"

	auditMACInfo = "mcp-mail-manager/audit-mac/v1"
)

var (
	ErrInvalidKDFParams = errors.New("invalid kdf parameters")
	ErrInvalidHKDFInput = errors.New("invalid hkdf input")
)

type KDFParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLen      uint32
}

func DefaultKDFParams() KDFParams {
	return KDFParams{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		KeyLen:      MasterKeyLen,
	}
}

func (p KDFParams) Validate() error {
	switch {
	case p.Memory < 8*1024:
		return fmt.Errorf("%w: memory must be >= 8192 KiB", ErrInvalidKDFParams)
	case p.Iterations == 0:
		return fmt.Errorf("%w: iterations must be > 0", ErrInvalidKDFParams)
	case p.Parallelism == 0:
		return fmt.Errorf("%w: parallelism must be > 0", ErrInvalidKDFParams)
	case p.KeyLen != MasterKeyLen:
		return fmt.Errorf("%w: key length must be %d", ErrInvalidKDFParams, MasterKeyLen)
	default:
		return nil
	}
}

// DeriveMasterKey stretches the raw master secret into the field-encryption
// key using Argon2id with the fixed application salt. The raw secret is never
// used directly as key material.
func DeriveMasterKey(secret []byte, params KDFParams) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: secret must not be empty", ErrInvalidKDFParams)
	}

	key := argon2.IDKey(secret, []byte(masterKeySalt), params.Iterations, params.Memory, params.Parallelism, params.KeyLen)
	return key, nil
}

func DeriveHKDFSHA256(ikm, salt, info []byte, length int) ([]byte, error) {
	if len(ikm) == 0 {
		return nil, fmt.Errorf("%w: ikm must not be empty", ErrInvalidHKDFInput)
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: length must be > 0", ErrInvalidHKDFInput)
	}

	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("derive hkdf-sha256 output: %w", err)
	}
	return out, nil
}

// DeriveAuditMACKey derives the audit-chain MAC key as an HKDF subkey of the
// master key, keeping it domain-separated from the field-encryption key.
func DeriveAuditMACKey(masterKey []byte) ([]byte, error) {
	key, err := DeriveHKDFSHA256(masterKey, nil, []byte(auditMACInfo), MasterKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive audit mac key: %w", err)
	}
	return key, nil
}
