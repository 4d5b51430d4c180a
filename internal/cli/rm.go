package cli

import (
	"github.com/spf13/cobra"
)

// RmOptions holds flags for the rm command.
type RmOptions struct {
	*RootOptions
	Folder bool
}

// NewRmCommand creates the rm command.
func NewRmCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RmOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a file or folder",
		Long: `Delete a file (default) or, with --folder, an empty folder.

Deleting a folder that still contains entries is rejected.

Example:
  driftline rm <file-id>
  driftline rm --folder <folder-id>`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRm(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Folder, "folder", false, "delete a folder instead of a file")

	return cmd
}

func runRm(opts *RmOptions, id string, cmd *cobra.Command) error {
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	env, err := OpenEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	ep := env.Files
	if opts.Folder {
		ep = env.Folders
	}

	res, err := ep.Delete(cmd.Context(), env.Principal, id)
	if err != nil {
		return f.Fail(err)
	}
	return f.Success(writeReport{ID: id, TxnID: res.TxnID, Position: res.Position})
}
