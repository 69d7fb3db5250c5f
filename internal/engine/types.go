package engine

import (
	"context"

	"github.com/danieljhkim/agentpm/internal/planner"
	"github.com/danieljhkim/agentpm/internal/source"
)

// InstallRequest represents a request to install packages.
type InstallRequest struct {
	// Packages are the resolved packages, in install order.
	Packages []source.Package

	// Platforms are the platform ids to install for. Empty selects the
	// platforms detected in the workspace.
	Platforms []string

	// Strategy is the conflict strategy for collisions with other packages.
	Strategy planner.Strategy

	// NamespaceThreshold is the collision share that namespaces a whole
	// package under keep-both.
	NamespaceThreshold float64

	// Chooser answers per-conflict questions under the ask strategy.
	Chooser planner.Chooser
}

// InstallResult aggregates the outcome of an install batch.
type InstallResult struct {
	// Packages holds one result per requested package, in order.
	Packages []*PackageResult
}

// Failed returns the packages that failed.
func (r *InstallResult) Failed() []*PackageResult {
	var out []*PackageResult
	for _, p := range r.Packages {
		if p.Err != nil {
			out = append(out, p)
		}
	}
	return out
}

// PackageResult is the outcome of installing one package.
type PackageResult struct {
	// Name is the package name.
	Name string

	// InstalledFiles are workspace paths created by this install.
	InstalledFiles []string

	// UpdatedFiles are existing workspace paths whose content changed.
	UpdatedFiles []string

	// UnchangedFiles are targets that already held the right content.
	UnchangedFiles []string

	// Namespaced is set when the whole package was nested under Namespace.
	Namespaced bool

	// Namespace is the slug used for relocated targets, if any.
	Namespace string

	// RelocatedFiles lists keep-both relocations.
	RelocatedFiles []planner.Relocation

	// Notes are conflict-resolution notes.
	Notes []string

	// Warnings are problems that did not stop the package.
	Warnings []string

	// ResourceErrors reports explicitly requested resources that were
	// rejected. Each wraps ErrValidation.
	ResourceErrors []error

	// Err is set when the package failed as a whole. Its index entry was
	// left untouched.
	Err error
}

// SaveRequest represents a request to save workspace edits of a package
// back into its source.
type SaveRequest struct {
	// Package is the installed package's name.
	Package string

	// Platforms limits the platforms whose files are considered. Empty
	// considers every known platform.
	Platforms []string

	// Selector resolves keys with several distinct workspace versions. Nil
	// leaves such keys untouched.
	Selector Selector
}

// SaveStatus is the outcome for one source path.
type SaveStatus string

const (
	SaveWritten   SaveStatus = "written"
	SaveUnchanged SaveStatus = "unchanged"
	SaveParity    SaveStatus = "parity"
	SaveSkipped   SaveStatus = "skipped"
	SaveFailed    SaveStatus = "failed"
)

// PathResult is the save outcome for one source path.
type PathResult struct {
	// Key is the registry key the content belongs to.
	Key string

	// SourcePath is the package-relative file written, which may be a
	// platform-specific sibling of Key.
	SourcePath string

	// From lists the workspace paths the content came from.
	From []string

	Status SaveStatus
	Note   string
	Err    error
}

// SaveResult represents the result of a save.
type SaveResult struct {
	Package  string
	Paths    []PathResult
	Warnings []string
}

// Written returns the number of source files written.
func (r *SaveResult) Written() int {
	n := 0
	for _, p := range r.Paths {
		if p.Status == SaveWritten {
			n++
		}
	}
	return n
}

// SaveCandidate is one workspace version of a registry key, already
// extracted and reversed into universal form.
type SaveCandidate struct {
	Platform string
	Path     string
	Content  []byte
}

// Selection is a Selector's answer. Universal indexes the candidate that
// becomes the new universal source, or is -1. PlatformSpecific indexes
// candidates stored as platform-qualified siblings.
type Selection struct {
	Universal        int
	PlatformSpecific []int
}

// Selector chooses among diverging workspace versions of one key.
type Selector interface {
	Select(ctx context.Context, key string, candidates []SaveCandidate) (Selection, error)
}

// UninstallRequest represents a request to remove an installed package.
type UninstallRequest struct {
	Package string
}

// UninstallResult represents the result of an uninstall.
type UninstallResult struct {
	// Removed lists deleted workspace paths.
	Removed []string

	// Stripped lists shared files the package's contribution was removed
	// from.
	Stripped []string

	Notes []string
}

// PackageInfo summarises one index entry.
type PackageInfo struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Path      string   `json:"path"`
	Namespace string   `json:"namespace,omitempty"`
	Keys      int      `json:"keys"`
	Paths     []string `json:"paths"`
}
