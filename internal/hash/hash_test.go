package hash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/danieljhkim/agentpm/internal/fsops"
)

func TestBlake3Hasher_HashFile(t *testing.T) {
	tmpDir := t.TempDir()
	hasher := NewBlake3Hasher()

	t.Run("stable and matches HashBytes", func(t *testing.T) {
		testFile := filepath.Join(tmpDir, "test.txt")
		content := []byte("hello world")
		if err := os.WriteFile(testFile, content, 0644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}

		h1, err := hasher.HashFile(testFile)
		if err != nil {
			t.Fatalf("HashFile failed: %v", err)
		}
		h2, err := hasher.HashFile(testFile)
		if err != nil {
			t.Fatalf("HashFile failed on second call: %v", err)
		}
		if h1 != h2 {
			t.Errorf("HashFile inconsistent: got %s and %s", h1, h2)
		}
		if len(h1) != 64 {
			t.Errorf("expected 64 hex chars, got %d", len(h1))
		}
		if got := hasher.HashBytes(content); got != h1 {
			t.Errorf("HashBytes = %s, HashFile = %s", got, h1)
		}
	})

	t.Run("different content differs", func(t *testing.T) {
		if hasher.HashBytes([]byte("content A")) == hasher.HashBytes([]byte("content B")) {
			t.Error("different contents produced the same hash")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := hasher.HashFile(filepath.Join(tmpDir, "missing.txt")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestHashTree(t *testing.T) {
	fs := fsops.NewRealFS()
	root := t.TempDir()

	write := func(rel, content string) {
		t.Helper()
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	write("rules/a.md", "a")
	write("agentpm.yml", "name: demo")

	skipManifest := func(rel string) bool { return rel == "agentpm.yml" }

	first, err := HashTree(fs, root, skipManifest)
	if err != nil {
		t.Fatalf("HashTree: %v", err)
	}

	write("agentpm.yml", "name: demo\nversion: 2.0.0")
	second, err := HashTree(fs, root, skipManifest)
	if err != nil {
		t.Fatalf("HashTree: %v", err)
	}
	if first != second {
		t.Error("skipped file should not affect the digest")
	}

	write("rules/a.md", "changed")
	third, err := HashTree(fs, root, skipManifest)
	if err != nil {
		t.Fatalf("HashTree: %v", err)
	}
	if third == second {
		t.Error("content change should change the digest")
	}
}
