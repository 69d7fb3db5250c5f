package planner

import (
	"fmt"
	"path/filepath"

	"github.com/danieljhkim/agentpm/internal/fsops"
	"github.com/danieljhkim/agentpm/internal/regkey"
	"github.com/danieljhkim/agentpm/internal/state"
)

// OwnerKind is how an owner claims a path.
type OwnerKind string

const (
	OwnerFile OwnerKind = "file"
	OwnerDir  OwnerKind = "dir"
)

// Owner identifies the package entry that claims a path.
type Owner struct {
	Package string
	Key     string
	Kind    OwnerKind
}

// Ownership is the aggregated view of every other package's ledger entry.
// It is rebuilt for each install rather than cached.
type Ownership struct {
	// DirOwners maps directory claims ("dir/") to their owners.
	DirOwners map[string][]Owner

	// PathOwners maps concrete workspace-relative files to their owner.
	PathOwners map[string]Owner
}

// BuildOwnership aggregates the entries of every package except self.
// File-scoped values are registered first; directory values are then
// expanded by walking the workspace and attributing each existing file to
// the directory's owner. The first owner registered for a path wins.
func BuildOwnership(fs fsops.FS, workspaceRoot string, ix *state.Index, self string) (*Ownership, error) {
	o := &Ownership{
		DirOwners:  map[string][]Owner{},
		PathOwners: map[string]Owner{},
	}

	names := ix.Names()
	for _, name := range names {
		if name == self {
			continue
		}
		e, _ := ix.Entry(name)
		if e == nil {
			continue
		}
		for _, key := range e.Keys() {
			for _, v := range e.Files[key] {
				if regkey.IsDir(v) {
					continue
				}
				if _, taken := o.PathOwners[v]; !taken {
					o.PathOwners[v] = Owner{Package: name, Key: key, Kind: OwnerFile}
				}
			}
		}
	}

	for _, name := range names {
		if name == self {
			continue
		}
		e, _ := ix.Entry(name)
		if e == nil {
			continue
		}
		for _, key := range e.Keys() {
			for _, v := range e.Files[key] {
				if !regkey.IsDir(v) {
					continue
				}
				owner := Owner{Package: name, Key: key, Kind: OwnerDir}
				o.DirOwners[v] = append(o.DirOwners[v], owner)

				files, err := fs.WalkFiles(filepath.Join(workspaceRoot, filepath.FromSlash(v)))
				if err != nil {
					return nil, fmt.Errorf("failed to expand %s owned by %s: %w", v, name, err)
				}
				for _, f := range files {
					p := v + f
					if _, taken := o.PathOwners[p]; !taken {
						o.PathOwners[p] = owner
					}
				}
			}
		}
	}
	return o, nil
}

// OwnerOf returns the owner of a workspace-relative path. A path that does
// not exist yet but lies in another package's claimed directory is owned by
// that package; with nested claims the innermost directory wins.
func (o *Ownership) OwnerOf(rel string) (Owner, bool) {
	if owner, ok := o.PathOwners[rel]; ok {
		return owner, true
	}
	best := ""
	for dir, owners := range o.DirOwners {
		if len(owners) == 0 || !regkey.Under(dir, rel) {
			continue
		}
		if len(dir) > len(best) || (len(dir) == len(best) && dir < best) {
			best = dir
		}
	}
	if best == "" {
		return Owner{}, false
	}
	return o.DirOwners[best][0], true
}
