package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
)

// WriteZip streams the tree as a deflated ZIP archive to w. Entry names are
// rooted at the folder name, e.g. "photos/2024/a.jpg".
func (t *Tree) WriteZip(w io.Writer) error {
	zipWriter := zip.NewWriter(w)

	if err := compressNode(zipWriter, t.Root, ""); err != nil {
		zipWriter.Close()
		return err
	}

	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("failed to close zip writer: %w", err)
	}
	return nil
}

func compressNode(zw *zip.Writer, node Node, basePath string) error {
	archivePath := path.Join(basePath, node.Name())

	switch n := node.(type) {
	case *File:
		return addFileToZip(zw, n.Path(), archivePath)
	case *Dir:
		children := n.Children()
		if len(children) == 0 {
			if _, err := zw.Create(archivePath + "/"); err != nil {
				return fmt.Errorf("failed to create zip directory entry: %w", err)
			}
			return nil
		}
		for _, child := range children {
			if err := compressNode(zw, child, archivePath); err != nil {
				return err
			}
		}
	}
	return nil
}

func addFileToZip(zw *zip.Writer, srcPath, archivePath string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", srcPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create zip header: %w", err)
	}
	header.Name = archivePath
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to write file to zip: %w", err)
	}

	return nil
}
