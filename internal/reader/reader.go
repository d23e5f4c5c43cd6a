// Package reader serves one file at a time, live from disk, with the same
// visibility rules as the tree scanner. It never touches the bundle cache:
// every call reflects the current file state.
package reader

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Thordata/thordata-llm-code-share/internal/filter"
	"github.com/Thordata/thordata-llm-code-share/pkg/pathsafe"
)

// DefaultMaxBytes caps a single-file response when the caller does not
// configure a limit.
const DefaultMaxBytes = 3_000_000

var (
	// ErrForbidden means a filter rule hides the file (secret-like name,
	// blocked extension, ignored directory, lockfile).
	ErrForbidden = errors.New("file blocked by ignore rules")

	// ErrBinary means the leading byte sample looked like binary content.
	ErrBinary = errors.New("file rejected as binary")
)

// Result is a successfully read file. Size is the original on-disk size;
// Content holds at most the configured byte limit of it.
type Result struct {
	RelPath   string
	Size      int64
	Truncated bool
	Content   []byte
}

// Header renders the block header preceding the content in the response
// body: path, original size and truncation flag, in the same FILE: format
// used inside bundle chunks.
func (r *Result) Header() []byte {
	const rule = "========================================================================"
	flag := "no"
	if r.Truncated {
		flag = "yes"
	}
	return []byte(fmt.Sprintf("%s\nFILE: %s\nSIZE: %d\nTRUNCATED: %s\n%s\n",
		rule, r.RelPath, r.Size, flag, rule))
}

// ReadFile validates relPath against root and returns its content,
// truncated at maxBytes (0 means DefaultMaxBytes).
//
// Validation short-circuits in a fixed order, first match wins:
//  1. containment: pathsafe.ErrPathEscape for traversal or absolute paths;
//  2. symlinks: pathsafe.ErrSymlink for any linked segment;
//  3. filter rules: ErrForbidden, before any content is read;
//  4. binary sniff: ErrBinary from the leading sample.
//
// Only after all four pass is content read. Missing files surface as
// os.ErrNotExist.
func ReadFile(root, relPath string, rules *filter.RuleSet, maxBytes int) (*Result, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	resolved, err := pathsafe.Resolve(root, relPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Lstat(resolved.Abs)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file", os.ErrNotExist)
	}

	if c := rules.Classify(resolved.Rel, nil); !c.Visible {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, c.Reason)
	}

	f, err := os.Open(resolved.Abs)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sample := make([]byte, filter.SampleSize)
	n, err := io.ReadFull(f, sample)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("sampling %s: %w", resolved.Rel, err)
	}
	sample = sample[:n]
	if filter.LooksBinary(sample) {
		return nil, fmt.Errorf("%w: %s", ErrBinary, resolved.Rel)
	}

	content := sample
	if len(content) > maxBytes {
		content = content[:maxBytes]
	} else if len(content) < maxBytes {
		rest, err := io.ReadAll(io.LimitReader(f, int64(maxBytes-len(content))))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", resolved.Rel, err)
		}
		content = append(content, rest...)
	}

	return &Result{
		RelPath:   resolved.Rel,
		Size:      info.Size(),
		Truncated: int64(len(content)) < info.Size(),
		Content:   content,
	}, nil
}
