// Package source describes installable packages and resolves them to local
// content roots.
//
// A package is a directory laid out in the universal format: resource
// categories (agents/, rules/, commands/, skills/, hooks/) plus optional
// mcp.jsonc, AGENTS.md and a root/ tree copied verbatim. Its agentpm.yml
// manifest carries the name, version and fully-qualified identity.
//
// Dependency resolution and fetching are outside agentpm's core: a Resolver
// hands the engine an ordered list of packages that already exist on disk.
package source

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/danieljhkim/agentpm/internal/fsops"
)

// ManifestFile is the package manifest's file name.
const ManifestFile = "agentpm.yml"

// ErrOutsideBase is returned for an explicit resource path that does not lie
// within the package's content root.
var ErrOutsideBase = errors.New("resource is outside the package base")

// Package is a resolved package ready to install.
type Package struct {
	// Name is the package name from the manifest.
	Name string

	// Version is the manifest version.
	Version string

	// Identity is the fully-qualified name, e.g. "gh@acme/agents/rules/go".
	// Namespace slugs are derived from it.
	Identity string

	// ContentRoot is the absolute directory holding the universal tree.
	ContentRoot string

	// Resources optionally limits installation to these package-relative
	// files or directories (directories end with "/").
	Resources []string
}

// Include reports whether a package-relative path takes part in installs.
// The manifest, VCS metadata and paths outside the requested resources are
// excluded.
func (p Package) Include(rel string) bool {
	if rel == ManifestFile || rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return false
	}
	if len(p.Resources) == 0 {
		return true
	}
	for _, r := range p.Resources {
		r = strings.TrimPrefix(path.Clean("/"+r), "/")
		if rel == r || strings.HasPrefix(rel, r+"/") {
			return true
		}
	}
	return false
}

// ResourceError reports a problem with one explicitly requested resource.
type ResourceError struct {
	Resource string
	Err      error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource %s: %v", e.Resource, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// ValidateResources checks every requested resource and returns the ones
// that can be installed plus an error for each one that cannot. A resource
// must resolve inside the content root and exist.
func (p Package) ValidateResources(fs fsops.FS) (valid []string, errs []error) {
	for _, r := range p.Resources {
		if err := fs.ValidateRelPath(r); err != nil {
			errs = append(errs, &ResourceError{Resource: r, Err: fmt.Errorf("%w: %v", ErrOutsideBase, err)})
			continue
		}

		abs := filepath.Join(p.ContentRoot, filepath.FromSlash(r))
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			errs = append(errs, &ResourceError{Resource: r, Err: fmt.Errorf("not found in %s", p.ContentRoot)})
			continue
		}
		root, err := filepath.EvalSymlinks(p.ContentRoot)
		if err != nil {
			root = p.ContentRoot
		}
		if rel, err := filepath.Rel(root, resolved); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			errs = append(errs, &ResourceError{Resource: r, Err: ErrOutsideBase})
			continue
		}
		valid = append(valid, r)
	}
	return valid, errs
}

// ListFiles returns the package's installable files, relative and sorted.
func (p Package) ListFiles(fs fsops.FS) ([]string, error) {
	all, err := fs.WalkFiles(p.ContentRoot)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", p.Name, err)
	}
	files := make([]string, 0, len(all))
	for _, rel := range all {
		if p.Include(rel) {
			files = append(files, rel)
		}
	}
	return files, nil
}
