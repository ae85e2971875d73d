package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/artik0din/mcp-mail-manager/internal/audit"
)

func newAuditCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the tamper-evident audit trail",
		Example: "  mailvault audit ls --action account.update --limit 20\n" +
			"  mailvault audit verify",
	}
	cmd.AddCommand(
		newAuditListCommand(deps),
		newAuditVerifyCommand(deps),
	)
	return cmd
}

func requireAudit(rt *vaultRuntime) (*audit.Service, error) {
	if rt.audit == nil {
		return nil, fmt.Errorf("audit trail is disabled; enable it in config or set MAILVAULT_AUDIT_ENABLED=true")
	}
	return rt.audit, nil
}

func newAuditListCommand(deps commandDeps) *cobra.Command {
	var (
		action   string
		targetID string
		limit    int
	)
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List recorded audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("audit ls does not accept positional arguments")
			}

			return withVault(cmd.Context(), deps, func(ctx context.Context, rt *vaultRuntime) error {
				service, err := requireAudit(rt)
				if err != nil {
					return err
				}
				events, err := service.List(ctx, audit.Filter{
					Action:   action,
					TargetID: targetID,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, events)
				}
				if len(events) == 0 {
					if deps.globals.Quiet {
						return nil
					}
					_, err = fmt.Fprintln(deps.out, "no audit events recorded")
					return err
				}
				for _, event := range events {
					target := event.TargetID
					if target == "" {
						target = "-"
					}
					if _, err := fmt.Fprintf(deps.out, "%s  %-16s %-24s %s\n",
						event.Timestamp.UTC().Format(time.RFC3339), event.Action, target, event.Result); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "Only events with this action")
	cmd.Flags().StringVar(&targetID, "target", "", "Only events touching this account id")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of events (0 = all)")
	return cmd
}

func newAuditVerifyCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute the audit hash chain and compare it to the stored tip",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("audit verify does not accept positional arguments")
			}

			return withVault(cmd.Context(), deps, func(ctx context.Context, rt *vaultRuntime) error {
				service, err := requireAudit(rt)
				if err != nil {
					return err
				}
				result, err := service.Verify(ctx)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					if err := printJSON(deps.out, result); err != nil {
						return err
					}
				} else if !deps.globals.Quiet {
					if result.Valid {
						if _, err := fmt.Fprintf(deps.out, "audit chain valid (%d events)\n", result.EventCount); err != nil {
							return err
						}
					} else {
						if _, err := fmt.Fprintf(deps.out, "audit chain INVALID: %s\n", result.Error); err != nil {
							return err
						}
					}
				}
				if !result.Valid {
					return &ExitError{Code: ExitCodeGeneric, Err: fmt.Errorf("%w: %s", audit.ErrChainBroken, result.Error)}
				}
				return nil
			})
		},
	}
	return cmd
}
