package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type GlobalOptions struct {
	ConfigPath string
	JSON       bool
	Quiet      bool
	LogLevel   string
}

type commandDeps struct {
	out     io.Writer
	globals *GlobalOptions
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	globals := &GlobalOptions{}
	deps := commandDeps{out: out, globals: globals}

	cmd := &cobra.Command{
		Use:           "mailvault",
		Short:         "Encrypted credential vault for mail accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return asExitError(ExitCodeUsage, err)
	})

	cmd.PersistentFlags().StringVar(&globals.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().BoolVar(&globals.JSON, "json", false, "Emit JSON output")
	cmd.PersistentFlags().BoolVar(&globals.Quiet, "quiet", false, "Suppress non-essential output")
	cmd.PersistentFlags().StringVar(&globals.LogLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	cmd.AddCommand(newAccountCommand(deps))
	cmd.AddCommand(newKeyCommand(deps))
	cmd.AddCommand(newAuditCommand(deps))
	cmd.AddCommand(newVersionCommand(out, build))
	cmd.InitDefaultCompletionCmd()
	return cmd
}

func newVersionCommand(out io.Writer, build BuildInfo) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(build)
			}

			_, err := fmt.Fprintf(out, "version=%s commit=%s build_time=%s\n", build.Version, build.Commit, build.BuildTime)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print version as JSON")
	return cmd
}
