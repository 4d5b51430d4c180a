package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftline/driftline/internal/store"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Database   string
	Workspace  string
	User       string
	Membership []string
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a workspace database and config file",
		Long: `Create the SQLite workspace database and write the config file.

The config records the database path, the workspace id, and the acting
principal. Subsequent commands read it from --config.

Example:
  driftline init --db ./workspace.db --workspace ws-1 --user alice`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Workspace, "workspace", "", "workspace id (required)")
	cmd.Flags().StringVar(&opts.User, "user", "", "principal id (required)")
	cmd.Flags().StringSliceVar(&opts.Membership, "member-of", nil, "additional workspace memberships")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	if _, err := os.Stat(opts.Config); err == nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("config %s already exists", opts.Config), nil)
	}

	// Opening creates the schema.
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "create database", err)
	}
	if err := st.Close(); err != nil {
		return WrapExitError(ExitCommandError, "close database", err)
	}

	cfg := &Config{
		DB:        opts.Database,
		Workspace: opts.Workspace,
		Principal: PrincipalConfig{
			ID:         opts.User,
			Workspaces: append([]string{opts.Workspace}, opts.Membership...),
		},
	}
	if err := cfg.Save(opts.Config); err != nil {
		return WrapExitError(ExitCommandError, "write config", err)
	}

	f.VerboseLog("database %s, config %s", opts.Database, opts.Config)
	return f.Success(fmt.Sprintf("initialized workspace %s in %s", opts.Workspace, opts.Database))
}
