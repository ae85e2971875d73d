package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePrefersConfiguredSecret(t *testing.T) {
	t.Parallel()

	keyPath := filepath.Join(t.TempDir(), "vault.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("file-secret\n"), 0o600))

	mgr := NewKeyManager(KeyConfig{
		Secret:      "env-secret",
		KeyFilePath: keyPath,
		Params:      fastKDFParams(),
	})
	t.Cleanup(mgr.Destroy)

	key, source, err := mgr.Resolve()
	require.NoError(t, err)
	require.Equal(t, KeySourceConfig, source)

	expected, err := DeriveMasterKey([]byte("env-secret"), fastKDFParams())
	require.NoError(t, err)
	require.Equal(t, expected, key.Bytes())
}

func TestResolveReadsKeyFile(t *testing.T) {
	t.Parallel()

	keyPath := filepath.Join(t.TempDir(), "vault.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("persisted-secret\n"), 0o600))

	mgr := NewKeyManager(KeyConfig{KeyFilePath: keyPath, Params: fastKDFParams()})
	t.Cleanup(mgr.Destroy)

	key, source, err := mgr.Resolve()
	require.NoError(t, err)
	require.Equal(t, KeySourceFile, source)

	expected, err := DeriveMasterKey([]byte("persisted-secret"), fastKDFParams())
	require.NoError(t, err)
	require.Equal(t, expected, key.Bytes())
}

func TestResolveGeneratesAndPersistsSecret(t *testing.T) {
	t.Parallel()

	keyPath := filepath.Join(t.TempDir(), "keys", "vault.key")

	mgr := NewKeyManager(KeyConfig{KeyFilePath: keyPath, Params: fastKDFParams()})
	t.Cleanup(mgr.Destroy)

	key, source, err := mgr.Resolve()
	require.NoError(t, err)
	require.Equal(t, KeySourceGenerated, source)
	require.Len(t, key.Bytes(), MasterKeyLen)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// A second manager must resolve the same key from the persisted file.
	mgr2 := NewKeyManager(KeyConfig{KeyFilePath: keyPath, Params: fastKDFParams()})
	t.Cleanup(mgr2.Destroy)

	key2, source2, err := mgr2.Resolve()
	require.NoError(t, err)
	require.Equal(t, KeySourceFile, source2)
	require.Equal(t, key.Bytes(), key2.Bytes())
}

func TestResolveCachesKeyAcrossCalls(t *testing.T) {
	t.Parallel()

	keyPath := filepath.Join(t.TempDir(), "vault.key")

	mgr := NewKeyManager(KeyConfig{KeyFilePath: keyPath, Params: fastKDFParams()})
	t.Cleanup(mgr.Destroy)

	first, _, err := mgr.Resolve()
	require.NoError(t, err)

	// Removing the key file must not matter: the key is resolved once.
	require.NoError(t, os.Remove(keyPath))

	second, _, err := mgr.Resolve()
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestResolveUnreadableKeyFileIsFatal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "vault.key")

	// A key file that exists as a directory cannot be read; regeneration
	// would orphan existing ciphertext, so this must surface as fatal.
	require.NoError(t, os.Mkdir(keyPath, 0o700))

	mgr := NewKeyManager(KeyConfig{KeyFilePath: keyPath, Params: fastKDFParams()})
	t.Cleanup(mgr.Destroy)

	_, _, err := mgr.Resolve()
	require.ErrorIs(t, err, ErrKeyFileUnreadable)
}

func TestResolveEmptyKeyFileIsFatal(t *testing.T) {
	t.Parallel()

	keyPath := filepath.Join(t.TempDir(), "vault.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("  \n"), 0o600))

	mgr := NewKeyManager(KeyConfig{KeyFilePath: keyPath, Params: fastKDFParams()})
	t.Cleanup(mgr.Destroy)

	_, _, err := mgr.Resolve()
	require.ErrorIs(t, err, ErrKeyFileUnreadable)
}

func TestResolveBinaryKeyFileIsFatal(t *testing.T) {
	t.Parallel()

	keyPath := filepath.Join(t.TempDir(), "vault.key")
	require.NoError(t, os.WriteFile(keyPath, []byte{0x00, 0x01, 0xff, 0xfe}, 0o600))

	mgr := NewKeyManager(KeyConfig{KeyFilePath: keyPath, Params: fastKDFParams()})
	t.Cleanup(mgr.Destroy)

	_, _, err := mgr.Resolve()
	require.ErrorIs(t, err, ErrKeyFileUnreadable)
}

func TestKeyFileExists(t *testing.T) {
	t.Parallel()

	keyPath := filepath.Join(t.TempDir(), "vault.key")
	mgr := NewKeyManager(KeyConfig{KeyFilePath: keyPath, Params: fastKDFParams()})
	t.Cleanup(mgr.Destroy)

	exists, err := mgr.KeyFileExists()
	require.NoError(t, err)
	require.False(t, exists)

	_, _, err = mgr.Resolve()
	require.NoError(t, err)

	exists, err = mgr.KeyFileExists()
	require.NoError(t, err)
	require.True(t, exists)
}
