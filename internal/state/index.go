package state

import (
	"sort"
	"strings"

	"github.com/danieljhkim/agentpm/internal/regkey"
)

// Index is the persisted ownership ledger for a workspace.
type Index struct {
	// Packages maps package names to their ledger entries.
	Packages map[string]*PackageEntry `yaml:"packages"`
}

// PackageEntry records what one package installed.
type PackageEntry struct {
	// Path is the package's source location.
	Path string `yaml:"path"`

	// Version is the installed version.
	Version string `yaml:"version"`

	// Hash is the digest of the package's source tree at install time.
	Hash string `yaml:"hash,omitempty"`

	// Namespace is the slug the package was relocated under, if any.
	Namespace string `yaml:"namespace,omitempty"`

	// Files maps registry keys to installed workspace-relative paths.
	// Directory keys end with "/" and list directory paths ending with "/".
	Files map[string][]string `yaml:"files"`
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{Packages: make(map[string]*PackageEntry)}
}

// Names returns the installed package names, sorted.
func (ix *Index) Names() []string {
	names := make([]string, 0, len(ix.Packages))
	for name := range ix.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entry returns the entry for name.
func (ix *Index) Entry(name string) (*PackageEntry, bool) {
	e, ok := ix.Packages[name]
	return e, ok && e != nil
}

// Namespaces returns the namespace slugs in use by packages other than
// except.
func (ix *Index) Namespaces(except string) map[string]bool {
	used := map[string]bool{}
	for name, e := range ix.Packages {
		if name != except && e != nil && e.Namespace != "" {
			used[e.Namespace] = true
		}
	}
	return used
}

// Keys returns the entry's registry keys, sorted.
func (e *PackageEntry) Keys() []string {
	keys := make([]string, 0, len(e.Files))
	for k := range e.Files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Paths returns every installed path of the entry, sorted and de-duplicated.
// Directory paths keep their trailing slash.
func (e *PackageEntry) Paths() []string {
	seen := map[string]bool{}
	var out []string
	for _, vals := range e.Files {
		for _, v := range vals {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Strings(out)
	return out
}

// DirPaths returns the entry's directory-scoped installed paths.
func (e *PackageEntry) DirPaths() []string {
	var out []string
	for _, p := range e.Paths() {
		if regkey.IsDir(p) {
			out = append(out, p)
		}
	}
	return out
}

// Covers reports whether the entry claims workspace path p, either exactly
// or through a directory value.
func (e *PackageEntry) Covers(p string) bool {
	for _, v := range e.Paths() {
		if v == p || (regkey.IsDir(v) && strings.HasPrefix(p, v)) {
			return true
		}
	}
	return false
}

// KeysFor returns the registry keys whose values cover workspace path p.
func (e *PackageEntry) KeysFor(p string) []string {
	var out []string
	for _, k := range e.Keys() {
		for _, v := range e.Files[k] {
			if v == p || (regkey.IsDir(v) && strings.HasPrefix(p, v)) {
				out = append(out, k)
				break
			}
		}
	}
	return out
}
