// Package harness runs YAML-defined conformance scenarios against the
// full sync stack: optimistic collections dispatching to real endpoints
// over a real store, reconciled through the change feed after every
// step. Scenarios state operations and expected outcomes in domain
// terms (folder and file names); the harness resolves names to keys and
// checks convergence.
package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Workspace is the workspace id all steps operate in.
	Workspace string `yaml:"workspace"`

	// Principal is the acting principal.
	Principal PrincipalSpec `yaml:"principal"`

	// Steps run in order. A step with an Expect code must fail with
	// exactly that taxonomy code; all other steps must succeed.
	Steps []Step `yaml:"steps"`

	// Expect validates the final converged state.
	Expect Expectations `yaml:"expect,omitempty"`
}

// PrincipalSpec describes the scenario's principal.
type PrincipalSpec struct {
	ID         string   `yaml:"id"`
	Workspaces []string `yaml:"workspaces"`
}

// Step is one operation against the workspace.
//
// Ops: mkdir (create folder Name under Parent), write (create file
// Name under Parent with Content), update (replace Target file's
// content), move (re-parent Target folder under Parent), rm (delete
// Target file), rmdir (delete Target folder).
type Step struct {
	Op      string `yaml:"op"`
	Name    string `yaml:"name,omitempty"`
	Parent  string `yaml:"parent,omitempty"` // folder name, empty = root
	Content string `yaml:"content,omitempty"`
	Target  string `yaml:"target,omitempty"`

	// Expect is the taxonomy code this step must fail with. Empty
	// means the step must succeed.
	Expect string `yaml:"expect,omitempty"`
}

// Expectations validate the converged state after the last step.
type Expectations struct {
	// Files maps file name to expected content.
	Files map[string]string `yaml:"files,omitempty"`

	// Folders lists folder names that must exist.
	Folders []string `yaml:"folders,omitempty"`

	// Pending is the expected number of unsettled mutations across
	// both collections. Nil skips the check; converged scenarios
	// typically assert 0.
	Pending *int `yaml:"pending,omitempty"`
}

// LoadScenario reads and validates one scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario %s: name is required", path)
	}
	if sc.Workspace == "" {
		return nil, fmt.Errorf("scenario %s: workspace is required", path)
	}
	if sc.Principal.ID == "" {
		return nil, fmt.Errorf("scenario %s: principal.id is required", path)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s: at least one step is required", path)
	}
	for i, st := range sc.Steps {
		switch st.Op {
		case "mkdir", "write":
			if st.Name == "" {
				return nil, fmt.Errorf("scenario %s: step %d: %s requires a name", path, i, st.Op)
			}
		case "update", "move", "rm", "rmdir":
			if st.Target == "" {
				return nil, fmt.Errorf("scenario %s: step %d: %s requires a target", path, i, st.Op)
			}
		default:
			return nil, fmt.Errorf("scenario %s: step %d: unknown op %q", path, i, st.Op)
		}
	}
	return &sc, nil
}

// FindScenarios returns all scenario files under dir, sorted for
// deterministic test ordering.
func FindScenarios(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan scenarios: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}
