package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/artik0din/mcp-mail-manager/internal/audit"
	"github.com/artik0din/mcp-mail-manager/internal/config"
	"github.com/artik0din/mcp-mail-manager/internal/crypto"
	"github.com/artik0din/mcp-mail-manager/internal/log"
	"github.com/artik0din/mcp-mail-manager/internal/store"
)

var (
	loadConfigFn = config.Load
	kdfParamsFn  = crypto.DefaultKDFParams
	logStderr    io.Writer = os.Stderr
)

// vaultRuntime is the fully wired vault: config, logger, resolved master
// key, field cipher, account store and (when enabled) the audit trail.
type vaultRuntime struct {
	cfg       config.Config
	logger    *slog.Logger
	keys      *crypto.KeyManager
	keySource crypto.KeySource
	store     *store.Store
	audit     *audit.Service
}

// record appends an audit event when the trail is enabled. Details must
// never contain secret material.
func (rt *vaultRuntime) record(ctx context.Context, action, targetID string, details map[string]any) error {
	if rt.audit == nil {
		return nil
	}
	return rt.audit.Record(ctx, action, targetID, details)
}

func loadConfig(deps commandDeps) (config.Config, error) {
	opts := config.LoadOptions{}
	if deps.globals != nil {
		if configPath := strings.TrimSpace(deps.globals.ConfigPath); configPath != "" {
			opts.ConfigPath = configPath
		}
		if level := strings.TrimSpace(deps.globals.LogLevel); level != "" {
			opts.Flags.LogLevel = &level
		}
	}
	return loadConfigFn(opts)
}

// withVault loads config, resolves the master key and opens the account
// store, then runs fn. All resources are torn down before it returns.
func withVault(cmdCtx context.Context, deps commandDeps, fn func(context.Context, *vaultRuntime) error) error {
	cfg, err := loadConfig(deps)
	if err != nil {
		return mapCommandError(fmt.Errorf("load config: %w", err))
	}

	logger, logCloser, err := log.New(logStderr, log.Options{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	if err != nil {
		return mapCommandError(fmt.Errorf("setup logging: %w", err))
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	keys := crypto.NewKeyManager(crypto.KeyConfig{
		Secret:      cfg.Vault.MasterSecret,
		KeyFilePath: cfg.Vault.KeyFile,
		Params:      kdfParamsFn(),
	})
	defer keys.Destroy()

	masterKey, source, err := keys.Resolve()
	if err != nil {
		return mapCommandError(fmt.Errorf("resolve master key: %w", err))
	}

	cipher := crypto.NewFieldCipher(masterKey)
	accounts, err := store.Open(cfg.Vault.AccountsFile, cipher, logger)
	if err != nil {
		return mapCommandError(fmt.Errorf("open account store: %w", err))
	}

	rt := &vaultRuntime{
		cfg:       cfg,
		logger:    logger,
		keys:      keys,
		keySource: source,
		store:     accounts,
	}

	if cfg.Audit.Enabled {
		auditStore, err := audit.OpenStore(cfg.Audit.File)
		if err != nil {
			return mapCommandError(fmt.Errorf("open audit store: %w", err))
		}
		defer auditStore.Close()

		macKey, err := crypto.DeriveAuditMACKey(masterKey.Bytes())
		if err != nil {
			return mapCommandError(fmt.Errorf("derive audit mac key: %w", err))
		}
		service, err := audit.NewService(auditStore, macKey)
		if err != nil {
			return mapCommandError(fmt.Errorf("init audit trail: %w", err))
		}
		rt.audit = service
		accounts.AttachRecorder(service)

		if source == crypto.KeySourceGenerated {
			if err := rt.record(cmdCtx, audit.ActionKeyGenerate, "", map[string]any{
				"key_file": cfg.Vault.KeyFile,
			}); err != nil {
				return mapCommandError(fmt.Errorf("record key generation: %w", err))
			}
		}
	}

	return mapCommandError(fn(cmdCtx, rt))
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func boolToState(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
