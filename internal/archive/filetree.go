// Package archive walks an upload folder and exports it as a ZIP stream.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
)

// Tree is a snapshot of a folder's regular files and subdirectories.
// Symlinks and special files are left out.
type Tree struct {
	Root *Dir
}

// BuildTree walks dir recursively.
func BuildTree(dir string) (*Tree, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	root, err := buildDirTree(filepath.Clean(dir))
	if err != nil {
		return nil, err
	}
	return &Tree{Root: root}, nil
}

func buildDirTree(dirPath string) (*Dir, error) {
	dir := &Dir{
		path:     dirPath,
		name:     filepath.Base(dirPath),
		children: []Node{},
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dirPath, err)
	}

	for _, entry := range entries {
		childPath := filepath.Join(dirPath, entry.Name())

		switch {
		case entry.IsDir():
			childDir, err := buildDirTree(childPath)
			if err != nil {
				return nil, err
			}
			childDir.parent = dir
			dir.children = append(dir.children, childDir)
		case entry.Type().IsRegular():
			info, err := entry.Info()
			if err != nil {
				return nil, fmt.Errorf("failed to stat %s: %w", childPath, err)
			}
			dir.children = append(dir.children, &File{
				path: childPath,
				name: entry.Name(),
				size: info.Size(),
				dir:  dir,
			})
		}
	}

	return dir, nil
}

// Flatten returns every node below the root, depth first, in directory
// listing order.
func (t *Tree) Flatten() []Node {
	var nodes []Node
	var walk func(d *Dir)
	walk = func(d *Dir) {
		for _, child := range d.Children() {
			nodes = append(nodes, child)
			if sub, ok := child.(*Dir); ok {
				walk(sub)
			}
		}
	}
	walk(t.Root)
	return nodes
}

// Files returns only the regular files of the tree.
func (t *Tree) Files() []*File {
	var files []*File
	for _, n := range t.Flatten() {
		if f, ok := n.(*File); ok {
			files = append(files, f)
		}
	}
	return files
}

// Size is the total size in bytes of all files in the tree.
func (t *Tree) Size() int64 {
	var total int64
	for _, f := range t.Files() {
		total += f.Size()
	}
	return total
}
