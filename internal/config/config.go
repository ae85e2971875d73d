package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultLogLevel       = "info"
	defaultLogMaxSizeMB   = 10
	defaultLogMaxFiles    = 5
	defaultConnectTimeout = 15 * time.Second

	keyFileName      = "vault.key"
	accountsFileName = "accounts.json"
	auditFileName    = "audit.db"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Vault   VaultConfig   `toml:"vault"`
	Audit   AuditConfig   `toml:"audit"`
	Logging LoggingConfig `toml:"logging"`
	Mail    MailConfig    `toml:"mail"`
}

type VaultConfig struct {
	// MasterSecret is the externally supplied pre-derivation secret. The
	// MAILVAULT_MASTER_KEY environment variable is the usual carrier; a
	// config-file value works but leaves the secret in a second file.
	MasterSecret string `toml:"master_secret"`
	KeyFile      string `toml:"key_file"`
	AccountsFile string `toml:"accounts_file"`
}

type AuditConfig struct {
	Enabled bool   `toml:"enabled"`
	File    string `toml:"file"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

type MailConfig struct {
	ConnectTimeout time.Duration `toml:"connect_timeout"`
}

type LoadOptions struct {
	ConfigPath string
	Env        map[string]string
	Flags      FlagOverrides
}

type FlagOverrides struct {
	LogLevel *string
}

func DefaultConfig(dataHome string) Config {
	return Config{
		Vault: VaultConfig{
			KeyFile:      filepath.Join(dataHome, keyFileName),
			AccountsFile: filepath.Join(dataHome, accountsFileName),
		},
		Audit: AuditConfig{
			Enabled: false,
			File:    filepath.Join(dataHome, auditFileName),
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			File:      "",
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
		Mail: MailConfig{
			ConnectTimeout: defaultConnectTimeout,
		},
	}
}

func Load(opts LoadOptions) (Config, error) {
	dataHome, err := resolveDataHome(opts)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig(dataHome)

	configPath, err := resolveConfigPath(opts)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}
	if err := loadAndApplyFile(configPath, &cfg); err != nil {
		return Config{}, err
	}

	if err := applyEnvOverrides(&cfg, opts); err != nil {
		return Config{}, err
	}
	applyFlagOverrides(&cfg, opts.Flags)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type rawConfig struct {
	Vault   *rawVault   `toml:"vault"`
	Audit   *rawAudit   `toml:"audit"`
	Logging *rawLogging `toml:"logging"`
	Mail    *rawMail    `toml:"mail"`
}

type rawVault struct {
	MasterSecret *string `toml:"master_secret"`
	KeyFile      *string `toml:"key_file"`
	AccountsFile *string `toml:"accounts_file"`
}

type rawAudit struct {
	Enabled *bool   `toml:"enabled"`
	File    *string `toml:"file"`
}

type rawLogging struct {
	Level     *string `toml:"level"`
	File      *string `toml:"file"`
	MaxSizeMB *int    `toml:"max_size_mb"`
	MaxFiles  *int    `toml:"max_files"`
}

type rawMail struct {
	ConnectTimeout *string `toml:"connect_timeout"`
}

func loadAndApplyFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}

	if raw.Vault != nil {
		setString(raw.Vault.MasterSecret, &cfg.Vault.MasterSecret)
		setString(raw.Vault.KeyFile, &cfg.Vault.KeyFile)
		setString(raw.Vault.AccountsFile, &cfg.Vault.AccountsFile)
	}
	if raw.Audit != nil {
		setBool(raw.Audit.Enabled, &cfg.Audit.Enabled)
		setString(raw.Audit.File, &cfg.Audit.File)
	}
	if raw.Logging != nil {
		setString(raw.Logging.Level, &cfg.Logging.Level)
		setString(raw.Logging.File, &cfg.Logging.File)
		setInt(raw.Logging.MaxSizeMB, &cfg.Logging.MaxSizeMB)
		setInt(raw.Logging.MaxFiles, &cfg.Logging.MaxFiles)
	}
	if raw.Mail != nil {
		if err := setDuration("mail.connect_timeout", raw.Mail.ConnectTimeout, &cfg.Mail.ConnectTimeout); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config, opts LoadOptions) error {
	if value, ok := lookupEnv(opts, "MAILVAULT_MASTER_KEY"); ok {
		cfg.Vault.MasterSecret = value
	}
	if value, ok := lookupEnv(opts, "MAILVAULT_KEY_FILE"); ok {
		cfg.Vault.KeyFile = value
	}
	if value, ok := lookupEnv(opts, "MAILVAULT_ACCOUNTS_FILE"); ok {
		cfg.Vault.AccountsFile = value
	}

	if value, ok := lookupEnv(opts, "MAILVAULT_AUDIT_ENABLED"); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: parse MAILVAULT_AUDIT_ENABLED: %v", ErrInvalidConfig, err)
		}
		cfg.Audit.Enabled = parsed
	}
	if value, ok := lookupEnv(opts, "MAILVAULT_AUDIT_FILE"); ok {
		cfg.Audit.File = value
	}

	if value, ok := lookupEnv(opts, "MAILVAULT_LOG_LEVEL"); ok {
		cfg.Logging.Level = value
	}
	if value, ok := lookupEnv(opts, "MAILVAULT_LOG_FILE"); ok {
		cfg.Logging.File = value
	}
	if value, ok := lookupEnv(opts, "MAILVAULT_LOG_MAX_SIZE_MB"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse MAILVAULT_LOG_MAX_SIZE_MB: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxSizeMB = parsed
	}
	if value, ok := lookupEnv(opts, "MAILVAULT_LOG_MAX_FILES"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse MAILVAULT_LOG_MAX_FILES: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxFiles = parsed
	}

	if value, ok := lookupEnv(opts, "MAILVAULT_CONNECT_TIMEOUT"); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: parse MAILVAULT_CONNECT_TIMEOUT: %v", ErrInvalidConfig, err)
		}
		cfg.Mail.ConnectTimeout = d
	}

	return nil
}

func applyFlagOverrides(cfg *Config, flags FlagOverrides) {
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
}

func validate(cfg Config) error {
	if cfg.Vault.KeyFile == "" && cfg.Vault.MasterSecret == "" {
		return fmt.Errorf("%w: vault.key_file must be set when no master secret is supplied", ErrInvalidConfig)
	}
	if cfg.Vault.AccountsFile == "" {
		return fmt.Errorf("%w: vault.accounts_file must be set", ErrInvalidConfig)
	}
	if cfg.Audit.Enabled && cfg.Audit.File == "" {
		return fmt.Errorf("%w: audit.file must be set when audit is enabled", ErrInvalidConfig)
	}
	if cfg.Mail.ConnectTimeout <= 0 || cfg.Mail.ConnectTimeout > time.Hour {
		return fmt.Errorf("%w: mail.connect_timeout must be > 0 and <= 1h", ErrInvalidConfig)
	}
	return nil
}

func setDuration(field string, raw *string, target *time.Duration) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, field, err)
	}
	*target = d
	return nil
}

func setString(raw *string, target *string) {
	if raw != nil {
		*target = *raw
	}
}

func setBool(raw *bool, target *bool) {
	if raw != nil {
		*target = *raw
	}
}

func setInt(raw *int, target *int) {
	if raw != nil {
		*target = *raw
	}
}

func resolveConfigPath(opts LoadOptions) (string, error) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, nil
	}
	if value, ok := lookupEnv(opts, "MAILVAULT_CONFIG_PATH"); ok {
		return value, nil
	}
	return defaultConfigPath(opts)
}

func lookupEnv(opts LoadOptions, key string) (string, bool) {
	if opts.Env != nil {
		if value, ok := opts.Env[key]; ok {
			return value, true
		}
	}
	return os.LookupEnv(key)
}

// resolveDataHome locates the per-user directory holding the key file, the
// account document, and the audit database.
func resolveDataHome(opts LoadOptions) (string, error) {
	if value, ok := lookupEnv(opts, "MAILVAULT_HOME"); ok {
		return value, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Mailvault"), nil
	}

	dataHome := filepath.Join(home, ".local", "share")
	if xdgDataHome, ok := lookupEnv(opts, "XDG_DATA_HOME"); ok && xdgDataHome != "" {
		dataHome = xdgDataHome
	}
	return filepath.Join(dataHome, "mailvault"), nil
}

func defaultConfigPath(opts LoadOptions) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Mailvault", "config.toml"), nil
	}

	configHome := filepath.Join(home, ".config")
	if xdgConfigHome, ok := lookupEnv(opts, "XDG_CONFIG_HOME"); ok && xdgConfigHome != "" {
		configHome = xdgConfigHome
	}
	return filepath.Join(configHome, "mailvault", "config.toml"), nil
}
