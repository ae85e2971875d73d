package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artik0din/mcp-mail-manager/internal/crypto"
)

func newKeyCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Master key operations",
	}
	cmd.AddCommand(
		newKeyStatusCommand(deps),
		newKeyInitCommand(deps),
	)
	return cmd
}

func newKeyStatusCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report how the master key would be resolved",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("key status does not accept positional arguments")
			}

			cfg, err := loadConfig(deps)
			if err != nil {
				return mapCommandError(fmt.Errorf("load config: %w", err))
			}

			keys := crypto.NewKeyManager(crypto.KeyConfig{
				Secret:      cfg.Vault.MasterSecret,
				KeyFilePath: cfg.Vault.KeyFile,
			})
			exists, err := keys.KeyFileExists()
			if err != nil {
				return mapCommandError(err)
			}

			source := string(crypto.KeySourceGenerated)
			switch {
			case cfg.Vault.MasterSecret != "":
				source = string(crypto.KeySourceConfig)
			case exists:
				source = string(crypto.KeySourceFile)
			}

			if deps.globals.JSON {
				return printJSON(deps.out, map[string]any{
					"key_file":        cfg.Vault.KeyFile,
					"key_file_exists": exists,
					"source":          source,
				})
			}
			_, err = fmt.Fprintf(deps.out, "key file: %s (%s)\nsource:   %s\n",
				cfg.Vault.KeyFile, boolToState(exists, "present", "absent"), source)
			return err
		},
	}
	return cmd
}

func newKeyInitCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Resolve the master key, generating and persisting one if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("key init does not accept positional arguments")
			}

			return withVault(cmd.Context(), deps, func(ctx context.Context, rt *vaultRuntime) error {
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"source":   string(rt.keySource),
						"key_file": rt.cfg.Vault.KeyFile,
					})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err := fmt.Fprintf(deps.out, "master key ready (source=%s)\n", rt.keySource)
				return err
			})
		},
	}
	return cmd
}
