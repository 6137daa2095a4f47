// Package pathguard builds and checks filesystem paths derived from untrusted
// input so that they cannot leave an approved root directory.
//
// Containment is decided on canonical paths (symlinks and dot segments
// resolved) and compared component by component: "/store_backup" is not
// inside "/store".
package pathguard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const notNormalized = "The path is not absolute and/or normalized"

// Root is an absolute, normalized directory that resolved paths must stay
// inside. The zero value is not usable; construct it with NewRoot.
type Root struct {
	field string
	dir   string
}

// NewRoot validates dir at configuration time. field names the setting in
// error messages, e.g. "storage_path".
func NewRoot(field, dir string) (Root, error) {
	if !filepath.IsAbs(dir) {
		return Root{}, newPathError(dir, fmt.Sprintf("%s %s is not absolute", field, dir), nil)
	}
	if filepath.Clean(dir) != dir {
		return Root{}, newPathError(dir, fmt.Sprintf("%s %s is not normalized", field, dir), nil)
	}
	return Root{field: field, dir: dir}, nil
}

// Path returns the configured directory.
func (r Root) Path() string { return r.dir }

// Field returns the configuration name the root was built from.
func (r Root) Field() string { return r.field }

// Resolve joins elem onto the root and checks the result. The returned path
// is exactly root/elem[0]/elem[1]/...; any element that would change under
// normalization (empty, ".", "..", trailing separators) is rejected rather
// than silently cleaned.
func (r Root) Resolve(elem ...string) (string, error) {
	if r.dir == "" {
		return "", newPathError("", "pathguard: root not configured", nil)
	}
	joined := r.dir
	for _, e := range elem {
		if joined == string(filepath.Separator) {
			joined += e
		} else {
			joined += string(filepath.Separator) + e
		}
	}
	if err := r.Contains(joined); err != nil {
		return "", err
	}
	return joined, nil
}

// Contains checks that p is absolute, normalized and a strict descendant of
// the root once both are canonicalized.
func (r Root) Contains(p string) error {
	if r.dir == "" {
		return newPathError(p, "pathguard: root not configured", nil)
	}
	if !filepath.IsAbs(p) || filepath.Clean(p) != p {
		return newPathError(p, notNormalized, nil)
	}

	root, err := Canonicalize(r.dir)
	if err != nil {
		return newPathError(p, fmt.Sprintf("Invalid directory %s", p), err)
	}
	canonical, err := Canonicalize(p)
	if err != nil {
		return newPathError(p, fmt.Sprintf("Invalid directory %s", p), err)
	}
	if !Within(root, canonical) {
		return newPathError(p, fmt.Sprintf("Invalid directory %s", p), nil)
	}
	return nil
}

// maxLinks bounds dangling-symlink chains followed by Canonicalize.
const maxLinks = 40

// Canonicalize resolves symlinks in p. When p does not exist yet, the
// deepest existing ancestor is resolved and the missing tail appended.
// Dangling symlinks are followed to where they point.
func Canonicalize(p string) (string, error) {
	return canonicalize(filepath.Clean(p), 0)
}

func canonicalize(p string, links int) (string, error) {
	if links > maxLinks {
		return "", fmt.Errorf("resolve %s: too many levels of symbolic links", p)
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}

	parent := filepath.Dir(p)
	if parent == p {
		return p, nil
	}
	parentResolved, err := canonicalize(parent, links)
	if err != nil {
		return "", err
	}

	candidate := filepath.Join(parentResolved, filepath.Base(p))
	info, err := os.Lstat(candidate)
	if err != nil || info.Mode()&fs.ModeSymlink == 0 {
		return candidate, nil
	}
	target, err := os.Readlink(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(parentResolved, target)
	}
	return canonicalize(filepath.Clean(target), links+1)
}

// Within reports whether p is a strict descendant of root. Both paths must
// already be canonical.
func Within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// IsRegularFile reports whether p exists and is a regular file. Symlinks are
// not followed.
func IsRegularFile(p string) bool {
	info, err := os.Lstat(p)
	return err == nil && info.Mode().IsRegular()
}
