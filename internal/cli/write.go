package cli

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/driftline/driftline/internal/entity"
	"github.com/driftline/driftline/internal/resource"
)

// WriteOptions holds flags for the write command.
type WriteOptions struct {
	*RootOptions
	Parent   string
	Content  string
	FromFile string
}

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write <name>",
		Short: "Create or update a file",
		Long: `Write a file in the configured workspace.

When a file with the same name already exists under the same parent its
content is updated; otherwise a new file is created.

Example:
  driftline write notes.txt --content "hello"
  driftline write report.txt --parent <folder-id> --from ./report.txt`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Parent, "parent", "", "parent folder id (root when omitted)")
	cmd.Flags().StringVar(&opts.Content, "content", "", "file content")
	cmd.Flags().StringVar(&opts.FromFile, "from", "", "read content from a local file")
	cmd.MarkFlagsMutuallyExclusive("content", "from")

	return cmd
}

func runWrite(opts *WriteOptions, name string, cmd *cobra.Command) error {
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	content := opts.Content
	if opts.FromFile != "" {
		raw, err := os.ReadFile(opts.FromFile)
		if err != nil {
			return WrapExitError(ExitCommandError, "read content file", err)
		}
		content = string(raw)
	}

	env, err := OpenEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()

	// An existing file under the same parent gets its content replaced.
	existing, err := findFile(env, cmd, name, opts.Parent)
	if err != nil {
		return f.Fail(err)
	}

	var res resource.WriteResult
	if existing != "" {
		f.VerboseLog("updating existing file %s", existing)
		res, err = env.Files.Update(ctx, env.Principal, existing, entity.Row{"content": content})
	} else {
		payload := entity.Row{
			"workspace_id": env.Config.Workspace,
			"name":         name,
			"content":      content,
		}
		if opts.Parent != "" {
			payload["parent_id"] = opts.Parent
		}
		res, err = env.Files.Create(ctx, env.Principal, payload)
	}
	if err != nil {
		return f.Fail(err)
	}
	return f.Success(writeReport{ID: res.Key, TxnID: res.TxnID, Position: res.Position})
}

// findFile returns the id of the file with this name under this parent,
// or "" when none exists.
func findFile(env *Env, cmd *cobra.Command, name, parent string) (string, error) {
	rows, err := env.Files.List(cmd.Context(), env.Principal)
	if err != nil {
		return "", err
	}
	// Stored names are NFC; match against the same form.
	name = norm.NFC.String(name)
	for _, row := range rows {
		if row["workspace_id"] != env.Config.Workspace || row["name"] != name {
			continue
		}
		rowParent, _ := row["parent_id"].(string)
		if rowParent == parent {
			if id, ok := row["id"].(string); ok {
				return id, nil
			}
		}
	}
	return "", nil
}
