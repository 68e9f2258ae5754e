package archive

import (
	"os"
	"path/filepath"
	"testing"
)

// Helpers

func setupNestedTestDir(t *testing.T, structure map[string]interface{}) string {
	t.Helper()
	rootDir := t.TempDir()
	createStructure(t, rootDir, structure)
	return rootDir
}

func createStructure(t *testing.T, basePath string, structure map[string]interface{}) {
	t.Helper()
	for name, content := range structure {
		path := filepath.Join(basePath, name)

		switch v := content.(type) {
		case string:
			// file
			if err := os.WriteFile(path, []byte(v), 0644); err != nil {
				t.Fatalf("failed to create file %s: %v", path, err)
			}

		case map[string]interface{}:
			// dir
			if err := os.Mkdir(path, 0755); err != nil {
				t.Fatalf("failed to create directory %s: %v", path, err)
			}
			createStructure(t, path, v)
		default:
			t.Fatalf("unsupported structure type for %s", name)
		}
	}
}

func assertDirChildCount(t *testing.T, dir *Dir, expected int) {
	t.Helper()
	if got := len(dir.Children()); got != expected {
		t.Errorf("expected %d children, got %d", expected, got)
	}
}

// Tests

func TestBuildTree(t *testing.T) {
	t.Run("flat directory", func(t *testing.T) {
		root := setupNestedTestDir(t, map[string]interface{}{
			"photos": map[string]interface{}{
				"a.jpg": "aaa",
				"b.jpg": "bb",
			},
		})

		tree, err := BuildTree(filepath.Join(root, "photos"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if tree.Root.Name() != "photos" {
			t.Errorf("expected root name 'photos', got %s", tree.Root.Name())
		}
		assertDirChildCount(t, tree.Root, 2)
		if tree.Size() != 5 {
			t.Errorf("expected size 5, got %d", tree.Size())
		}
	})

	t.Run("nested directories", func(t *testing.T) {
		root := setupNestedTestDir(t, map[string]interface{}{
			"README.md": "# Project",
			"src": map[string]interface{}{
				"main.go": "package main",
				"lib": map[string]interface{}{
					"util.go": "package lib",
				},
			},
		})

		tree, err := BuildTree(root)
		if err != nil {
			t.Fatal(err)
		}

		if got := len(tree.Files()); got != 3 {
			t.Errorf("expected 3 files, got %d", got)
		}
		if got := len(tree.Flatten()); got != 5 {
			t.Errorf("expected 5 nodes, got %d", got)
		}

		for _, n := range tree.Flatten() {
			if d, ok := n.(*Dir); ok && d.parent == nil {
				t.Errorf("dir %s has no parent", d.Name())
			}
			if f, ok := n.(*File); ok && f.dir == nil {
				t.Errorf("file %s has no dir", f.Name())
			}
		}
	})

	t.Run("empty directory", func(t *testing.T) {
		tree, err := BuildTree(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		assertDirChildCount(t, tree.Root, 0)
		if tree.Size() != 0 {
			t.Errorf("expected size 0, got %d", tree.Size())
		}
	})

	t.Run("skips symlinks", func(t *testing.T) {
		root := setupNestedTestDir(t, map[string]interface{}{
			"real.txt": "x",
		})
		outside := filepath.Join(t.TempDir(), "secret.txt")
		os.WriteFile(outside, []byte("secret"), 0644)
		if err := os.Symlink(outside, filepath.Join(root, "link.txt")); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}

		tree, err := BuildTree(root)
		if err != nil {
			t.Fatal(err)
		}
		files := tree.Files()
		if len(files) != 1 || files[0].Name() != "real.txt" {
			t.Errorf("expected only real.txt, got %v", files)
		}
	})

	t.Run("rejects a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "f.txt")
		os.WriteFile(file, []byte("x"), 0644)
		if _, err := BuildTree(file); err == nil {
			t.Error("expected error for regular file")
		}
	})

	t.Run("rejects missing path", func(t *testing.T) {
		if _, err := BuildTree(filepath.Join(t.TempDir(), "missing")); err == nil {
			t.Error("expected error for missing path")
		}
	})
}
