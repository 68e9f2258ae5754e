package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ChunkSize is the buffer used when streaming an upload to disk.
const ChunkSize = 32 * 1024

var (
	ErrExists       = errors.New("file already exists")
	ErrTooLarge     = errors.New("file exceeds maximum allowed size")
	ErrNotDirectory = errors.New("not a directory")
)

// Store defines the filesystem operations the upload path needs.
type Store interface {
	Save(dir, name string, data io.Reader, limit int64) (int64, error)
	Exists(dir, name string) (bool, error)
	FreeSpace(dir string) (uint64, error)
	CheckWritable(dir string) error
	EnsureDir(dir string) error
}

// FileSystemStore writes uploaded files directly into link folders.
type FileSystemStore struct{}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore() *FileSystemStore {
	return &FileSystemStore{}
}

// EnsureDir creates dir and any missing parents.
func (s *FileSystemStore) EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// Save streams data into dir/name in ChunkSize pieces and returns the number
// of bytes written. The file is created exclusively: an existing file is
// never touched and ErrExists is returned. A positive limit caps the size.
// On any failure the partially written file is removed.
func (s *FileSystemStore) Save(dir, name string, data io.Reader, limit int64) (int64, error) {
	filePath := filepath.Join(dir, name)

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return 0, ErrExists
		}
		return 0, fmt.Errorf("failed to create file %s: %w", filePath, err)
	}

	n, err := copyChunked(file, data, limit)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close file: %w", cerr)
	}
	if err != nil {
		// Clean up partial file on error
		if rerr := os.Remove(filePath); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w (cleanup of %s failed: %v)", err, filePath, rerr)
		}
		return 0, err
	}

	return n, nil
}

func copyChunked(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			if limit > 0 && written+int64(nr) > limit {
				return written, ErrTooLarge
			}
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, fmt.Errorf("failed to write file: %w", werr)
			}
			if nw != nr {
				return written, fmt.Errorf("failed to write file: %w", io.ErrShortWrite)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("failed to read upload: %w", rerr)
		}
	}
}

// Exists reports whether dir/name is present (of any type, including a
// dangling symlink).
func (s *FileSystemStore) Exists(dir, name string) (bool, error) {
	_, err := os.Lstat(filepath.Join(dir, name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat file: %w", err)
}

// FreeSpace returns the bytes available to unprivileged users on the
// filesystem holding dir.
func (s *FileSystemStore) FreeSpace(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, fmt.Errorf("failed to statfs %s: %w", dir, err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

// CheckWritable verifies dir is an existing directory this process can
// create files in.
func (s *FileSystemStore) CheckWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("failed to stat directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", dir, ErrNotDirectory)
	}
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	return nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
