// Package quarantine confines every runtime artifact of a governed subsystem
// to a single directory tree and guarantees no file under it is ever observed
// partially written.
//
// The layout contract is rigid: one confinement root, a fixed set of
// one-level category subdirectories, every file a direct child of exactly one
// category, one content format. Violations are programming errors and fail
// loudly; there is no per-call policy relaxation.
package quarantine

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Ext is the single allowed content format for quarantined records.
const Ext = ".json"

// Category names the fixed one-level subdirectories under a contract root.
type Category string

const (
	CategoryManifests   Category = "manifests"
	CategoryInputs      Category = "inputs"
	CategoryOutputs     Category = "outputs"
	CategoryQuarantined Category = "quarantined"
)

// Categories lists every valid category, in layout order.
func Categories() []Category {
	return []Category{CategoryManifests, CategoryInputs, CategoryOutputs, CategoryQuarantined}
}

// ViolationError reports a quarantine-contract breach: a path escaping the
// confinement root, nesting below a category, or a disallowed extension.
type ViolationError struct {
	Name   string
	Reason string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("quarantine contract violation: %s: %s", e.Reason, e.Name)
}

// Contract binds a subsystem to its confinement root.
type Contract struct {
	root      string
	subsystem string
}

// NewContract creates a contract for one subsystem under the quarantine root.
func NewContract(root, subsystem string) (*Contract, error) {
	if root == "" {
		return nil, &ViolationError{Name: root, Reason: "empty quarantine root"}
	}
	if subsystem == "" || subsystem != filepath.Base(subsystem) || subsystem == ".." || subsystem == "." {
		return nil, &ViolationError{Name: subsystem, Reason: "subsystem must be a bare directory name"}
	}
	return &Contract{root: filepath.Clean(root), subsystem: subsystem}, nil
}

// Root returns the subsystem's confinement directory.
func (c *Contract) Root() string {
	return filepath.Join(c.root, c.subsystem)
}

// CategoryDir returns the directory for a category without creating it.
func (c *Contract) CategoryDir(cat Category) (string, error) {
	if !validCategory(cat) {
		return "", &ViolationError{Name: string(cat), Reason: "unknown category"}
	}
	return filepath.Join(c.Root(), string(cat)), nil
}

// ResolvePath validates name as a direct child of the category directory and
// returns its absolute path. Rejected unconditionally: path separators,
// traversal, nesting, and any extension other than Ext.
func (c *Contract) ResolvePath(cat Category, name string) (string, error) {
	dir, err := c.CategoryDir(cat)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", &ViolationError{Name: name, Reason: "empty file name"}
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return "", &ViolationError{Name: name, Reason: "file must be a direct child of its category"}
	}
	if name == "." || name == ".." || strings.Contains(name, "..") {
		return "", &ViolationError{Name: name, Reason: "path traversal rejected"}
	}
	if filepath.Ext(name) != Ext {
		return "", &ViolationError{Name: name, Reason: "content format must be " + Ext}
	}

	path := filepath.Join(dir, name)
	// Belt and braces: the cleaned path must still sit directly in dir.
	if filepath.Dir(path) != dir {
		return "", &ViolationError{Name: name, Reason: "resolved outside category directory"}
	}
	return path, nil
}

// ManifestPath names the run manifest file for a run.
func (c *Contract) ManifestPath(runID string) (string, error) {
	return c.ResolvePath(CategoryManifests, "manifest_"+runID+Ext)
}

// InputPath names an input artifact file.
func (c *Contract) InputPath(artifactID string) (string, error) {
	return c.ResolvePath(CategoryInputs, "input_"+artifactID+Ext)
}

// OutputPath names the output artifact file for a run.
func (c *Contract) OutputPath(runID string) (string, error) {
	return c.ResolvePath(CategoryOutputs, "output_"+runID+Ext)
}

// QuarantinedPath names the quarantined-rows metadata file for a run.
func (c *Contract) QuarantinedPath(runID string) (string, error) {
	return c.ResolvePath(CategoryQuarantined, "quarantined_"+runID+Ext)
}

func validCategory(cat Category) bool {
	for _, c := range Categories() {
		if c == cat {
			return true
		}
	}
	return false
}
