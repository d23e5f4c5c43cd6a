// Package pathsafe provides the path containment primitive shared by the
// tree scanner and the single-file reader. Every externally supplied path
// goes through Resolve before any filesystem read: it is the one place
// where traversal, absolute-path injection and symlink escapes are caught,
// so both access paths enforce identical rules.
package pathsafe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrPathEscape indicates the requested path resolves outside the
	// repository root: a ".." traversal, an absolute path, or a reparse
	// point leading elsewhere.
	ErrPathEscape = errors.New("path escapes repository root")

	// ErrSymlink indicates some segment of the requested path is a
	// symbolic link. Links are never followed, regardless of target.
	ErrSymlink = errors.New("path resolves through a symbolic link")
)

// Resolved is the outcome of a successful Resolve call.
type Resolved struct {
	// Abs is the absolute on-disk path, a verified strict descendant
	// of the root.
	Abs string

	// Rel is the cleaned, slash-separated relative path suitable for
	// display and for filter classification.
	Rel string
}

// Resolve validates an externally supplied relative path against root and
// returns its canonical form.
//
// Checks, in order, first failure wins:
//  1. the path is non-empty, relative, and free of ".." segments after
//     cleaning (ErrPathEscape otherwise);
//  2. the joined absolute path is a strict descendant of root
//     (ErrPathEscape);
//  3. no intermediate or final segment is a symbolic link (ErrSymlink).
//
// Resolve does not require the target to exist: segments that do not
// exist yet simply cannot be symlinks. Callers stat the result themselves.
func Resolve(root, relPath string) (Resolved, error) {
	rel := strings.TrimSpace(relPath)
	rel = strings.TrimLeft(rel, "/\\")
	if rel == "" {
		return Resolved{}, fmt.Errorf("%w: empty path", ErrPathEscape)
	}

	// Normalize to slash form before cleaning so Windows-style input
	// cannot smuggle separators past the segment checks.
	rel = filepath.ToSlash(rel)
	cleaned := filepath.Clean(filepath.FromSlash(rel))

	if filepath.IsAbs(cleaned) || filepath.VolumeName(cleaned) != "" {
		return Resolved{}, fmt.Errorf("%w: absolute path not allowed", ErrPathEscape)
	}
	for _, seg := range strings.Split(filepath.ToSlash(cleaned), "/") {
		if seg == ".." {
			return Resolved{}, fmt.Errorf("%w: traversal segment", ErrPathEscape)
		}
	}

	abs := filepath.Join(root, cleaned)
	if !StrictlyWithin(root, abs) {
		return Resolved{}, fmt.Errorf("%w: %s", ErrPathEscape, relPath)
	}

	if err := rejectSymlinkSegments(root, cleaned); err != nil {
		return Resolved{}, err
	}

	return Resolved{Abs: abs, Rel: filepath.ToSlash(cleaned)}, nil
}

// StrictlyWithin reports whether abs is a strict descendant of root.
// root itself does not count: serving the root as a "file" is never valid.
func StrictlyWithin(root, abs string) bool {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// IsSymlink reports whether path is a symbolic link, without following it.
func IsSymlink(path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return false, err
	}
	return info.Mode()&os.ModeSymlink != 0, nil
}

// rejectSymlinkSegments lstats every prefix of the cleaned relative path
// and fails on the first symlink. Missing segments end the walk: a path
// that does not exist cannot link anywhere.
func rejectSymlinkSegments(root, cleaned string) error {
	current := root
	for _, seg := range strings.Split(filepath.ToSlash(cleaned), "/") {
		current = filepath.Join(current, seg)
		isLink, err := IsSymlink(current)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("checking %s: %w", current, err)
		}
		if isLink {
			return fmt.Errorf("%w: %s", ErrSymlink, seg)
		}
	}
	return nil
}
