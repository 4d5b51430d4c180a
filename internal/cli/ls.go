package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/driftline/driftline/internal/entity"
)

// LsOptions holds flags for the ls command.
type LsOptions struct {
	*RootOptions
}

// treeNode is one rendered entry in the listing.
type treeNode struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Kind     string      `json:"kind"` // "folder" | "file"
	Children []*treeNode `json:"children,omitempty"`
}

// treeReport is the full listing for one workspace.
type treeReport struct {
	Workspace string      `json:"workspace"`
	Roots     []*treeNode `json:"roots"`
}

func (r treeReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/\n", r.Workspace)
	var render func(nodes []*treeNode, depth int)
	render = func(nodes []*treeNode, depth int) {
		for _, n := range nodes {
			suffix := ""
			if n.Kind == "folder" {
				suffix = "/"
			}
			fmt.Fprintf(&b, "%s%s%s\n", strings.Repeat("  ", depth+1), n.Name, suffix)
			render(n.Children, depth+1)
		}
	}
	render(r.Roots, 0)
	return strings.TrimRight(b.String(), "\n")
}

// NewLsCommand creates the ls command.
func NewLsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List the workspace tree",
		Long: `List every folder and file visible to the configured principal,
rendered as a tree.

Example:
  driftline ls
  driftline ls --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLs(opts, cmd)
		},
	}

	return cmd
}

func runLs(opts *LsOptions, cmd *cobra.Command) error {
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	env, err := OpenEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()
	folders, err := env.Folders.List(ctx, env.Principal)
	if err != nil {
		return f.Fail(err)
	}
	files, err := env.Files.List(ctx, env.Principal)
	if err != nil {
		return f.Fail(err)
	}

	report := buildTree(env.Config.Workspace, folders, files)
	return f.Success(report)
}

// buildTree assembles the folder/file rows into a nested listing for
// one workspace. Children are sorted folders first, then by name.
func buildTree(workspaceID string, folders, files []entity.Row) treeReport {
	nodes := make(map[string]*treeNode)
	children := make(map[string][]*treeNode) // parent id ("" = root)

	add := func(rows []entity.Row, kind string) {
		for _, row := range rows {
			if row["workspace_id"] != workspaceID {
				continue
			}
			id, _ := row["id"].(string)
			name, _ := row["name"].(string)
			parent, _ := row["parent_id"].(string)
			n := &treeNode{ID: id, Name: name, Kind: kind}
			if kind == "folder" {
				nodes[id] = n
			}
			children[parent] = append(children[parent], n)
		}
	}
	add(folders, "folder")
	add(files, "file")

	for parent, kids := range children {
		sort.Slice(kids, func(i, j int) bool {
			if kids[i].Kind != kids[j].Kind {
				return kids[i].Kind == "folder"
			}
			return kids[i].Name < kids[j].Name
		})
		if parent == "" {
			continue
		}
		if p, ok := nodes[parent]; ok {
			p.Children = kids
		}
	}
	return treeReport{Workspace: workspaceID, Roots: children[""]}
}
