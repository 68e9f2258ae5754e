// Package pathguard keeps link folders and upload destinations inside the
// configured base path.
package pathguard

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
)

// Resolve turns admin folder input into an absolute, cleaned path.
// Relative input is taken relative to base; absolute input is used as-is
// and still has to pass IsSafe.
func Resolve(raw, base string) string {
	raw = strings.TrimSpace(raw)

	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return filepath.Clean(p)
}

// Canonical returns the absolute, symlink-resolved form of path.
//
// Trailing components that do not exist yet are appended lexically to the
// deepest existing ancestor, so a directory that is about to be created can
// still be checked. Any other resolution error is returned.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	var missing []string
	cur := abs
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			parts := make([]string, 0, len(missing)+1)
			parts = append(parts, resolved)
			for i := len(missing) - 1; i >= 0; i-- {
				parts = append(parts, missing[i])
			}
			return filepath.Join(parts...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent
	}
}

// IsSafe reports whether candidate resolves to base or to a path below it.
// Paths are compared segment by segment, so "/base-evil" is not inside
// "/base". The base must exist. Any resolution failure returns false.
func IsSafe(candidate, base string) bool {
	if candidate == "" || base == "" {
		return false
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	canonBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		return false
	}

	canonCandidate, err := Canonical(candidate)
	if err != nil {
		return false
	}

	return within(canonCandidate, canonBase)
}

func within(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}
