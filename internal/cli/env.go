package cli

import (
	"io"
	"log/slog"

	"github.com/driftline/driftline/internal/access"
	"github.com/driftline/driftline/internal/resource"
	"github.com/driftline/driftline/internal/store"
	"github.com/driftline/driftline/internal/workspace"
)

// Env is the resolved runtime for one command invocation: an open
// store, the built-in endpoints, and the configured principal.
type Env struct {
	Config    *Config
	Store     *store.Store
	Folders   *resource.Endpoint
	Files     *resource.Endpoint
	Principal access.Principal
}

// OpenEnv loads the config and wires the endpoint stack. The caller
// must Close the returned env.
func OpenEnv(opts *RootOptions) (*Env, error) {
	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}

	s, err := store.Open(cfg.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}

	logger := slog.Default()
	if !opts.Verbose {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	workspaces := make([]any, len(cfg.Principal.Workspaces))
	for i, w := range cfg.Principal.Workspaces {
		workspaces[i] = w
	}

	return &Env{
		Config:  cfg,
		Store:   s,
		Folders: resource.New(workspace.Folders(), s, resource.WithLogger(logger)),
		Files:   resource.New(workspace.Files(), s, resource.WithLogger(logger)),
		Principal: access.Principal{
			ID:     cfg.Principal.ID,
			Claims: map[string]any{workspace.ClaimWorkspaces: workspaces},
		},
	}, nil
}

// Close releases the env's store.
func (e *Env) Close() error {
	return e.Store.Close()
}
