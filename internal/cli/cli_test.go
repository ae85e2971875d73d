package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artik0din/mcp-mail-manager/internal/crypto"
)

func TestVersionCommandOutputsBuildInfo(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "version=1.2.3")
	require.Contains(t, out, "commit=abc123")
	require.Contains(t, out, "build_time=2026-02-19T00:00:00Z")
}

func TestVersionCommandOutputsJSON(t *testing.T) {
	out, err := runCLI(t, "version", "--json")
	require.NoError(t, err)

	var payload BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, "1.2.3", payload.Version)
	require.Equal(t, "abc123", payload.Commit)
}

func TestRootHasRequiredGlobalFlags(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCommand(&out, testBuildInfo())

	for _, name := range []string{"json", "quiet", "config", "log-level"} {
		require.NotNilf(t, cmd.PersistentFlags().Lookup(name), "missing flag %q", name)
	}
}

func TestRootHasTopLevelCommands(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCommand(&out, testBuildInfo())

	for _, name := range []string{"account", "key", "audit", "version"} {
		_, _, err := cmd.Find([]string{name})
		require.NoErrorf(t, err, "expected command %q", name)
	}
}

func TestUnknownFlagReturnsUsageError(t *testing.T) {
	_, err := runCLI(t, "--definitely-not-a-flag")
	require.Error(t, err)
	require.Equal(t, ExitCodeUsage, exitCode(err))
}

func TestAccountAddRequiresEmail(t *testing.T) {
	newVaultHome(t)

	_, err := runCLI(t, "account", "add")
	require.Error(t, err)
	require.Equal(t, ExitCodeUsage, exitCode(err))
}

func TestAccountAddListShowRoundTrip(t *testing.T) {
	newVaultHome(t)

	out, err := runCLI(t, "account", "add", "--email", "user@gmail.com", "--password", "hunter2")
	require.NoError(t, err)
	require.Contains(t, out, "account saved: user-gmail-com")

	out, err = runCLI(t, "account", "ls")
	require.NoError(t, err)
	require.Contains(t, out, "user-gmail-com")
	require.Contains(t, out, "user@gmail.com")
	require.Contains(t, out, "gmail")

	out, err = runCLI(t, "account", "show", "user-gmail-com")
	require.NoError(t, err)
	require.Contains(t, out, "imap.gmail.com")
	require.NotContains(t, out, "hunter2")
	require.Contains(t, out, "[redacted]")

	out, err = runCLI(t, "account", "show", "user-gmail-com", "--reveal")
	require.NoError(t, err)
	require.Contains(t, out, "hunter2")
}

func TestAccountShowMissingIsNotFound(t *testing.T) {
	newVaultHome(t)

	_, err := runCLI(t, "account", "show", "nobody-example-com")
	require.Error(t, err)
	require.Equal(t, ExitCodeNotFound, exitCode(err))
}

func TestAccountRemoveMissingSucceeds(t *testing.T) {
	newVaultHome(t)

	out, err := runCLI(t, "account", "rm", "nobody-example-com")
	require.NoError(t, err)
	require.Contains(t, out, "not found: nobody-example-com")
}

func TestAccountAddJSONRedactsSecrets(t *testing.T) {
	newVaultHome(t)

	out, err := runCLI(t, "--json", "account", "add", "--email", "user@example.com", "--password", "hunter2")
	require.NoError(t, err)
	require.NotContains(t, out, "hunter2")

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, "user-example-com", payload["id"])
}

func TestKeyStatusReportsConfiguredSecret(t *testing.T) {
	newVaultHome(t)

	out, err := runCLI(t, "--json", "key", "status")
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, string(crypto.KeySourceConfig), payload["source"])
}

func TestKeyInitGeneratesKeyFile(t *testing.T) {
	home := newVaultHome(t)
	t.Setenv("MAILVAULT_MASTER_KEY", "")

	out, err := runCLI(t, "key", "init")
	require.NoError(t, err)
	require.Contains(t, out, "source=generated")

	_, err = os.Stat(filepath.Join(home, "vault.key"))
	require.NoError(t, err)

	out, err = runCLI(t, "key", "init")
	require.NoError(t, err)
	require.Contains(t, out, "source=file")
}

func TestAuditDisabledByDefault(t *testing.T) {
	newVaultHome(t)

	_, err := runCLI(t, "audit", "ls")
	require.Error(t, err)
	require.Contains(t, err.Error(), "audit trail is disabled")
}

func TestAuditRecordsAccountLifecycle(t *testing.T) {
	home := newVaultHome(t)
	t.Setenv("MAILVAULT_AUDIT_ENABLED", "true")
	t.Setenv("MAILVAULT_AUDIT_FILE", filepath.Join(home, "audit.db"))

	_, err := runCLI(t, "account", "add", "--email", "user@example.com", "--password", "hunter2")
	require.NoError(t, err)
	_, err = runCLI(t, "account", "rm", "user-example-com")
	require.NoError(t, err)

	out, err := runCLI(t, "audit", "ls")
	require.NoError(t, err)
	require.Contains(t, out, "account.create")
	require.Contains(t, out, "account.remove")
	require.NotContains(t, out, "hunter2")

	out, err = runCLI(t, "audit", "verify")
	require.NoError(t, err)
	require.Contains(t, out, "audit chain valid")
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCommand(&out, testBuildInfo())
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// newVaultHome points the vault at a temp directory with a fixed master
// secret and fast KDF parameters so each invocation stays cheap.
func newVaultHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("MAILVAULT_HOME", home)
	t.Setenv("MAILVAULT_MASTER_KEY", "cli-test-master-secret")
	t.Setenv("MAILVAULT_CONFIG_PATH", filepath.Join(home, "config.toml"))

	prev := kdfParamsFn
	kdfParamsFn = func() crypto.KDFParams {
		return crypto.KDFParams{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, KeyLen: 32}
	}
	t.Cleanup(func() { kdfParamsFn = prev })
	return home
}

func testBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   "1.2.3",
		Commit:    "abc123",
		BuildTime: "2026-02-19T00:00:00Z",
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return withExit.ExitCode()
	}
	return -1
}
