package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/artik0din/mcp-mail-manager/internal/audit"
	"github.com/artik0din/mcp-mail-manager/internal/mailconn"
	"github.com/artik0din/mcp-mail-manager/internal/store"
)

func newAccountCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage stored mail accounts",
		Example: "  mailvault account add --email user@gmail.com --password \"app-pass\"\n" +
			"  mailvault account ls\n" +
			"  mailvault account show user-gmail-com --reveal",
	}
	cmd.AddCommand(
		newAccountAddCommand(deps),
		newAccountListCommand(deps),
		newAccountShowCommand(deps),
		newAccountRemoveCommand(deps),
		newAccountVerifyCommand(deps),
	)
	return cmd
}

func newAccountAddCommand(deps commandDeps) *cobra.Command {
	var (
		email        string
		displayName  string
		provider     string
		authKind     string
		username     string
		password     string
		accessToken  string
		refreshToken string
		clientSecret string
		imapHost     string
		imapPort     int
		imapSecurity string
		smtpHost     string
		smtpPort     int
		smtpSecurity string
		disabled     bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a mail account",
		Example: "  mailvault account add --email user@gmail.com --password \"app-pass\"\n" +
			"  mailvault account add --email user@corp.example --imap-host mail.corp.example --imap-port 993 --smtp-host mail.corp.example --smtp-port 465 --password \"pass\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("account add does not accept positional arguments")
			}
			if strings.TrimSpace(email) == "" {
				return usageErrorf("account add requires --email")
			}

			acct := store.Account{
				Email:       strings.TrimSpace(email),
				DisplayName: displayName,
				Provider:    provider,
				Enabled:     !disabled,
				IMAP: store.Endpoint{
					Host:     imapHost,
					Port:     imapPort,
					Security: store.Security(imapSecurity),
				},
				SMTP: store.Endpoint{
					Host:     smtpHost,
					Port:     smtpPort,
					Security: store.Security(smtpSecurity),
				},
				Auth: store.Auth{
					Kind:         store.AuthKind(authKind),
					Username:     username,
					Password:     password,
					AccessToken:  accessToken,
					RefreshToken: refreshToken,
					ClientSecret: clientSecret,
				},
			}

			return withVault(cmd.Context(), deps, func(ctx context.Context, rt *vaultRuntime) error {
				saved, err := rt.store.Upsert(ctx, acct)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, saved.Redacted())
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "account saved: %s\n", saved.ID)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email address (required)")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider preset (gmail, outlook, ...); detected from the email domain when omitted")
	cmd.Flags().StringVar(&authKind, "auth", "", "Auth mechanism: password, oauth2 or xoauth2")
	cmd.Flags().StringVar(&username, "username", "", "Login username (defaults to the email address)")
	cmd.Flags().StringVar(&password, "password", "", "Account or app password")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "OAuth2 access token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth2 refresh token")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth2 client secret")
	cmd.Flags().StringVar(&imapHost, "imap-host", "", "IMAP server host")
	cmd.Flags().IntVar(&imapPort, "imap-port", 0, "IMAP server port")
	cmd.Flags().StringVar(&imapSecurity, "imap-security", "", "IMAP transport security: ssl, starttls or none")
	cmd.Flags().StringVar(&smtpHost, "smtp-host", "", "SMTP server host")
	cmd.Flags().IntVar(&smtpPort, "smtp-port", 0, "SMTP server port")
	cmd.Flags().StringVar(&smtpSecurity, "smtp-security", "", "SMTP transport security: ssl, starttls or none")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Store the account in a disabled state")
	return cmd
}

func newAccountListCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List stored accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("account ls does not accept positional arguments")
			}

			return withVault(cmd.Context(), deps, func(ctx context.Context, rt *vaultRuntime) error {
				accounts, err := rt.store.List(ctx)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					redacted := make([]store.Account, 0, len(accounts))
					for _, acct := range accounts {
						redacted = append(redacted, acct.Redacted())
					}
					return printJSON(deps.out, redacted)
				}
				if len(accounts) == 0 {
					if deps.globals.Quiet {
						return nil
					}
					_, err = fmt.Fprintln(deps.out, "no accounts stored")
					return err
				}
				for _, acct := range accounts {
					provider := acct.Provider
					if provider == "" {
						provider = "custom"
					}
					if _, err := fmt.Fprintf(deps.out, "%s  %s  %s  %s\n",
						acct.ID, acct.Email, provider, boolToState(acct.Enabled, "enabled", "disabled")); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func newAccountShowCommand(deps commandDeps) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return usageErrorf("account show requires an account id")
			}

			return withVault(cmd.Context(), deps, func(ctx context.Context, rt *vaultRuntime) error {
				acct, err := rt.store.Get(ctx, id)
				if err != nil {
					return err
				}
				if reveal {
					if err := rt.record(ctx, audit.ActionAccountReveal, acct.ID, nil); err != nil {
						return err
					}
				} else {
					acct = acct.Redacted()
				}
				if deps.globals.JSON {
					return printJSON(deps.out, acct)
				}
				return printAccount(deps.out, acct)
			})
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Include decrypted secret values in the output")
	return cmd
}

func newAccountRemoveCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove"},
		Short:   "Remove an account",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return usageErrorf("account rm requires an account id")
			}

			return withVault(cmd.Context(), deps, func(ctx context.Context, rt *vaultRuntime) error {
				removed, err := rt.store.Remove(ctx, id)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"id": id, "removed": removed})
				}
				if deps.globals.Quiet {
					return nil
				}
				if removed {
					_, err = fmt.Fprintf(deps.out, "account removed: %s\n", id)
				} else {
					_, err = fmt.Fprintf(deps.out, "not found: %s\n", id)
				}
				return err
			})
		},
	}
	return cmd
}

func newAccountVerifyCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <id>",
		Short: "Connect to the account's IMAP and SMTP endpoints and authenticate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return usageErrorf("account verify requires an account id")
			}

			return withVault(cmd.Context(), deps, func(ctx context.Context, rt *vaultRuntime) error {
				acct, err := rt.store.Get(ctx, id)
				if err != nil {
					return err
				}

				results := map[string]string{}
				timeout := rt.cfg.Mail.ConnectTimeout
				if acct.IMAP.Host != "" {
					results["imap"] = verifyOutcome(mailconn.VerifyIMAP(acct, timeout))
				} else {
					results["imap"] = "skipped"
				}
				if acct.SMTP.Host != "" {
					results["smtp"] = verifyOutcome(mailconn.VerifySMTP(acct, timeout))
				} else {
					results["smtp"] = "skipped"
				}

				if err := rt.record(ctx, audit.ActionAccountVerify, acct.ID, map[string]any{
					"imap": results["imap"],
					"smtp": results["smtp"],
				}); err != nil {
					return err
				}

				if deps.globals.JSON {
					if err := printJSON(deps.out, map[string]any{"id": acct.ID, "imap": results["imap"], "smtp": results["smtp"]}); err != nil {
						return err
					}
				} else if !deps.globals.Quiet {
					if _, err := fmt.Fprintf(deps.out, "imap: %s\nsmtp: %s\n", results["imap"], results["smtp"]); err != nil {
						return err
					}
				}

				if results["imap"] != "ok" && results["imap"] != "skipped" {
					return &ExitError{Code: ExitCodeAuthFailed, Err: fmt.Errorf("imap verification failed: %s", results["imap"])}
				}
				if results["smtp"] != "ok" && results["smtp"] != "skipped" {
					return &ExitError{Code: ExitCodeAuthFailed, Err: fmt.Errorf("smtp verification failed: %s", results["smtp"])}
				}
				return nil
			})
		},
	}
	return cmd
}

func verifyOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

func formatEndpoint(ep store.Endpoint) string {
	if ep.Host == "" {
		return "unset"
	}
	security := ep.Security
	if security == "" {
		security = store.SecuritySSL
	}
	return fmt.Sprintf("%s:%d (%s)", ep.Host, ep.Port, security)
}

func printAccount(out io.Writer, acct store.Account) error {
	provider := acct.Provider
	if provider == "" {
		provider = "custom"
	}
	lines := []string{
		fmt.Sprintf("id:        %s", acct.ID),
		fmt.Sprintf("email:     %s", acct.Email),
		fmt.Sprintf("provider:  %s", provider),
		fmt.Sprintf("state:     %s", boolToState(acct.Enabled, "enabled", "disabled")),
		fmt.Sprintf("imap:      %s", formatEndpoint(acct.IMAP)),
		fmt.Sprintf("smtp:      %s", formatEndpoint(acct.SMTP)),
		fmt.Sprintf("auth:      %s (%s)", acct.Auth.Kind, acct.Auth.Username),
	}
	if acct.DisplayName != "" {
		lines = append(lines, fmt.Sprintf("name:      %s", acct.DisplayName))
	}
	if acct.Auth.Password != "" {
		lines = append(lines, fmt.Sprintf("password:  %s", acct.Auth.Password))
	}
	if acct.Auth.AccessToken != "" {
		lines = append(lines, fmt.Sprintf("token:     %s", acct.Auth.AccessToken))
	}
	if !acct.UpdatedAt.IsZero() {
		lines = append(lines, fmt.Sprintf("updated:   %s", acct.UpdatedAt.UTC().Format(time.RFC3339)))
	}
	_, err := fmt.Fprintln(out, strings.Join(lines, "\n"))
	return err
}
