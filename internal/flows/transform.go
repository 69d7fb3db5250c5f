package flows

import (
	"fmt"

	"github.com/danieljhkim/agentpm/internal/merge"
)

// Renames returns the flow's rename steps as (from, to) pairs.
func Renames(ops []MapOp) [][2]string {
	var pairs [][2]string
	for _, op := range ops {
		if op.Rename != nil && op.Rename.From != "" && op.Rename.To != "" {
			pairs = append(pairs, [2]string{op.Rename.From, op.Rename.To})
		}
	}
	return pairs
}

// Transform converts source content into what a flow writes at target:
// map steps run in the source's format, then structured content is
// re-encoded in the target's format. Content that no step touches and whose
// format does not change is returned byte for byte.
func Transform(content []byte, sourceRel, targetRel string, ops []MapOp) ([]byte, error) {
	from := merge.DetectFormat(sourceRel)
	to := merge.DetectFormat(targetRel)

	out, _, err := merge.RenameKeys(content, from, Renames(ops))
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", sourceRel, err)
	}
	if from.Structured() && to.Structured() {
		out, err = merge.Convert(out, from, to)
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", sourceRel, err)
		}
	}
	return out, nil
}
