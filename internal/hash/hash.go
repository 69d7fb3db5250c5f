// Package hash provides content hashing for change detection.
//
// agentpm hashes file contents to decide whether a write is needed (install
// and save only touch a file when its content actually changes) and records
// a digest of each installed package's source tree in the ledger. Digests are
// BLAKE3, hex encoded.
package hash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/danieljhkim/agentpm/internal/fsops"
)

// Hasher provides an abstraction for content hashing operations.
type Hasher interface {
	// HashFile computes the hash of the file at the given path.
	HashFile(path string) (string, error)

	// HashBytes computes the hash of an in-memory buffer.
	HashBytes(data []byte) string
}

// Blake3Hasher implements Hasher using BLAKE3.
type Blake3Hasher struct{}

// NewBlake3Hasher creates a new Blake3Hasher.
func NewBlake3Hasher() *Blake3Hasher {
	return &Blake3Hasher{}
}

// HashFile computes the BLAKE3 hash of the file at the given path.
func (h *Blake3Hasher) HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashBytes computes the BLAKE3 hash of data.
func (h *Blake3Hasher) HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashTree computes a digest over every file under root. The digest covers
// each file's relative path and content in sorted path order, so renames and
// edits both change it. skip reports relative paths to leave out.
func HashTree(fs fsops.FS, root string, skip func(rel string) bool) (string, error) {
	files, err := fs.WalkFiles(root)
	if err != nil {
		return "", err
	}

	hasher := blake3.New()
	for _, rel := range files {
		if skip != nil && skip(rel) {
			continue
		}
		data, err := fs.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", rel, err)
		}
		_, _ = hasher.Write([]byte(rel))
		_, _ = hasher.Write([]byte{0})
		fileSum := blake3.Sum256(data)
		_, _ = hasher.Write(fileSum[:])
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
