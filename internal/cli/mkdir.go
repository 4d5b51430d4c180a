package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftline/driftline/internal/entity"
)

// MkdirOptions holds flags for the mkdir command.
type MkdirOptions struct {
	*RootOptions
	Parent string
}

// writeReport is the JSON payload for commands that perform one write.
type writeReport struct {
	ID       string `json:"id"`
	TxnID    string `json:"txn_id"`
	Position int64  `json:"position"`
}

func (r writeReport) String() string {
	return fmt.Sprintf("%s (txn %s)", r.ID, r.TxnID)
}

// NewMkdirCommand creates the mkdir command.
func NewMkdirCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MkdirOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mkdir <name>",
		Short: "Create a folder",
		Long: `Create a folder in the configured workspace.

Example:
  driftline mkdir docs
  driftline mkdir notes --parent <folder-id>`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMkdir(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Parent, "parent", "", "parent folder id (root when omitted)")

	return cmd
}

func runMkdir(opts *MkdirOptions, name string, cmd *cobra.Command) error {
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	env, err := OpenEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	payload := entity.Row{
		"workspace_id": env.Config.Workspace,
		"name":         name,
	}
	if opts.Parent != "" {
		payload["parent_id"] = opts.Parent
	}

	res, err := env.Folders.Create(cmd.Context(), env.Principal, payload)
	if err != nil {
		return f.Fail(err)
	}
	return f.Success(writeReport{ID: res.Key, TxnID: res.TxnID, Position: res.Position})
}
