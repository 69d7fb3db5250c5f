package engine

import (
	"context"
	"fmt"
)

// List returns the packages recorded in the workspace index, sorted by name.
func (e *Engine) List(ctx context.Context) ([]PackageInfo, error) {
	ix, err := e.index.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	infos := make([]PackageInfo, 0, len(ix.Packages))
	for _, name := range ix.Names() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, ok := ix.Entry(name)
		if !ok {
			continue
		}
		infos = append(infos, PackageInfo{
			Name:      name,
			Version:   entry.Version,
			Path:      entry.Path,
			Namespace: entry.Namespace,
			Keys:      len(entry.Files),
			Paths:     entry.Paths(),
		})
	}
	return infos, nil
}
