package source

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/danieljhkim/agentpm/internal/fsops"
)

// Ref names a package to install and, optionally, a subset of its resources.
type Ref struct {
	// Location is where the package can be found.
	Location string

	// Resources limits the install to these package-relative paths.
	Resources []string
}

// Resolver turns refs into an ordered list of packages with local content
// roots. Implementations that fetch or solve versions live outside agentpm.
type Resolver interface {
	Resolve(ctx context.Context, refs []Ref) ([]Package, error)
}

// LocalResolver resolves refs that are directories on disk.
type LocalResolver struct {
	fs   fsops.FS
	base string
}

// NewLocalResolver creates a LocalResolver. Relative locations are resolved
// against base.
func NewLocalResolver(fs fsops.FS, base string) *LocalResolver {
	return &LocalResolver{fs: fs, base: base}
}

// Resolve loads each ref's manifest in order.
func (r *LocalResolver) Resolve(ctx context.Context, refs []Ref) ([]Package, error) {
	pkgs := make([]Package, 0, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir := ref.Location
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(r.base, dir)
		}
		info, err := r.fs.Lstat(dir)
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", ref.Location, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("package %s: not a directory", ref.Location)
		}

		m, err := LoadManifest(r.fs, dir)
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", ref.Location, err)
		}
		pkgs = append(pkgs, Package{
			Name:        m.Name,
			Version:     m.Version,
			Identity:    m.Identity,
			ContentRoot: dir,
			Resources:   ref.Resources,
		})
	}
	return pkgs, nil
}
