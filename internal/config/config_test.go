package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func loadWithHome(t *testing.T, opts LoadOptions) Config {
	t.Helper()

	if opts.Env == nil {
		opts.Env = map[string]string{}
	}
	if _, ok := opts.Env["MAILVAULT_HOME"]; !ok {
		opts.Env["MAILVAULT_HOME"] = t.TempDir()
	}

	cfg, err := Load(opts)
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	cfg := loadWithHome(t, LoadOptions{
		ConfigPath: filepath.Join(home, "missing.toml"),
		Env:        map[string]string{"MAILVAULT_HOME": home},
	})

	require.Equal(t, filepath.Join(home, "vault.key"), cfg.Vault.KeyFile)
	require.Equal(t, filepath.Join(home, "accounts.json"), cfg.Vault.AccountsFile)
	require.Equal(t, filepath.Join(home, "audit.db"), cfg.Audit.File)
	require.False(t, cfg.Audit.Enabled)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, 15*time.Second, cfg.Mail.ConnectTimeout)
}

func TestLoadParsesAllSections(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `
[vault]
key_file = "/tmp/custom.key"
accounts_file = "/tmp/custom-accounts.json"

[audit]
enabled = true
file = "/tmp/custom-audit.db"

[logging]
level = "debug"
file = "/tmp/mailvault.log"
max_size_mb = 20
max_files = 3

[mail]
connect_timeout = "30s"
`)

	cfg := loadWithHome(t, LoadOptions{ConfigPath: cfgPath})

	require.Equal(t, "/tmp/custom.key", cfg.Vault.KeyFile)
	require.Equal(t, "/tmp/custom-accounts.json", cfg.Vault.AccountsFile)
	require.True(t, cfg.Audit.Enabled)
	require.Equal(t, "/tmp/custom-audit.db", cfg.Audit.File)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "/tmp/mailvault.log", cfg.Logging.File)
	require.Equal(t, 20, cfg.Logging.MaxSizeMB)
	require.Equal(t, 3, cfg.Logging.MaxFiles)
	require.Equal(t, 30*time.Second, cfg.Mail.ConnectTimeout)
}

func TestLoadPrecedenceEnvOverFile(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `
[logging]
level = "debug"
`)

	cfg := loadWithHome(t, LoadOptions{
		ConfigPath: cfgPath,
		Env:        map[string]string{"MAILVAULT_LOG_LEVEL": "error"},
	})
	require.Equal(t, "error", cfg.Logging.Level)
}

func TestLoadPrecedenceFlagOverEnv(t *testing.T) {
	t.Parallel()

	level := "warn"
	cfg := loadWithHome(t, LoadOptions{
		Env:   map[string]string{"MAILVAULT_LOG_LEVEL": "error"},
		Flags: FlagOverrides{LogLevel: &level},
	})
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMasterKeyFromEnv(t *testing.T) {
	t.Parallel()

	cfg := loadWithHome(t, LoadOptions{
		Env: map[string]string{"MAILVAULT_MASTER_KEY": "env-master-secret"},
	})
	require.Equal(t, "env-master-secret", cfg.Vault.MasterSecret)
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `[vault`)

	_, err := Load(LoadOptions{
		ConfigPath: cfgPath,
		Env:        map[string]string{"MAILVAULT_HOME": t.TempDir()},
	})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `
[mail]
connect_timeout = "soon"
`)

	_, err := Load(LoadOptions{
		ConfigPath: cfgPath,
		Env:        map[string]string{"MAILVAULT_HOME": t.TempDir()},
	})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadRejectsAuditWithoutFile(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `
[audit]
enabled = true
file = ""
`)

	_, err := Load(LoadOptions{
		ConfigPath: cfgPath,
		Env:        map[string]string{"MAILVAULT_HOME": t.TempDir()},
	})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadRejectsBadEnvBool(t *testing.T) {
	t.Parallel()

	_, err := Load(LoadOptions{
		Env: map[string]string{
			"MAILVAULT_HOME":          t.TempDir(),
			"MAILVAULT_AUDIT_ENABLED": "sometimes",
		},
	})
	require.ErrorIs(t, err, ErrInvalidConfig)
}
