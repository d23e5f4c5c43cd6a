// Package scan walks a repository root and enumerates the files visible
// under the active filter rules. Each Scan call is a fresh full walk; the
// result is deterministic (lexicographic by relative path) so downstream
// chunk placement is reproducible across rebuilds.
package scan

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Thordata/thordata-llm-code-share/internal/filter"
	"github.com/Thordata/thordata-llm-code-share/internal/logging"
	"github.com/Thordata/thordata-llm-code-share/pkg/pathsafe"
)

// maxDepth bounds directory recursion. Deep trees beyond this are almost
// always generated artifacts, and the bound keeps a hostile tree from
// exhausting the stack.
const maxDepth = 40

// Entry is one visible file: its slash-separated relative path and size.
// Entries are created fresh on every scan and never persisted.
type Entry struct {
	RelPath string
	Size    int64
}

// Stats tallies what a walk saw besides the visible files.
type Stats struct {
	// Files is the number of visible entries returned.
	Files int
	// Hidden counts files and pruned directories excluded by filter
	// rules, keyed by reason.
	Hidden map[filter.Reason]int
	// Skipped counts unreadable entries: permission errors, races where
	// an entry vanished mid-walk. These never abort the scan.
	Skipped int
}

func (s *Stats) hide(r filter.Reason) {
	if s.Hidden == nil {
		s.Hidden = make(map[filter.Reason]int)
	}
	s.Hidden[r]++
}

// Scanner walks one repository root. The root directory handle provides
// kernel-level containment: nothing outside it is reachable through the
// scanner even via unexpected reparse points.
type Scanner struct {
	rootPath string
	rules    *filter.RuleSet
}

// New validates root and returns a scanner for it. root must be an
// absolute path to an existing directory.
func New(root string, rules *filter.RuleSet) (*Scanner, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("scan root must be absolute: %s", root)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot access scan root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root is not a directory: %s", root)
	}
	return &Scanner{rootPath: root, rules: rules}, nil
}

// Root returns the absolute root path the scanner operates on.
func (s *Scanner) Root() string {
	return s.rootPath
}

// Scan performs a full walk and returns the visible files in lexicographic
// order by relative path, plus walk statistics. Unreadable entries are
// skipped and counted, never fatal. Symlinks are never followed and never
// reported.
func (s *Scanner) Scan() ([]Entry, Stats, error) {
	root, err := os.OpenRoot(s.rootPath)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("cannot open scan root: %w", err)
	}
	defer root.Close()

	var entries []Entry
	var stats Stats
	if err := s.walk(root, ".", 1, &entries, &stats); err != nil {
		return nil, stats, fmt.Errorf("tree walk failed: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RelPath < entries[j].RelPath
	})
	stats.Files = len(entries)

	logging.Debug("Tree scan complete",
		"root", s.rootPath, "files", stats.Files, "skipped", stats.Skipped)
	return entries, stats, nil
}

func (s *Scanner) walk(root *os.Root, dir string, depth int, entries *[]Entry, stats *Stats) error {
	if depth > maxDepth {
		return nil
	}

	d, err := root.Open(dir)
	if err != nil {
		stats.Skipped++
		return nil
	}
	dirEntries, err := d.ReadDir(-1)
	d.Close()
	if err != nil && len(dirEntries) == 0 {
		stats.Skipped++
		return nil
	}

	for _, entry := range dirEntries {
		rel := entry.Name()
		if dir != "." {
			rel = dir + "/" + entry.Name()
		}
		abs := filepath.Join(s.rootPath, filepath.FromSlash(rel))

		if entry.Type()&os.ModeSymlink != 0 {
			stats.hide(filter.ReasonSymlink)
			continue
		}

		if entry.IsDir() {
			if ok, reason := s.rules.IgnoredDir(entry.Name()); ok {
				stats.hide(reason)
				continue
			}
			// Defense against reparse points the symlink check cannot
			// see: anything not strictly under the root is pruned.
			if !pathsafe.StrictlyWithin(s.rootPath, abs) {
				stats.hide(filter.ReasonSymlink)
				continue
			}
			if err := s.walk(root, rel, depth+1, entries, stats); err != nil {
				return err
			}
			continue
		}
		if !entry.Type().IsRegular() {
			stats.Skipped++
			continue
		}

		if ok, reason := s.rules.IgnoredFile(entry.Name()); ok {
			stats.hide(reason)
			continue
		}

		info, err := entry.Info()
		if err != nil {
			stats.Skipped++
			continue
		}

		sample, err := readSample(root, rel)
		if err != nil {
			stats.Skipped++
			continue
		}
		if c := s.rules.Classify(rel, sample); !c.Visible {
			stats.hide(c.Reason)
			continue
		}

		*entries = append(*entries, Entry{RelPath: rel, Size: info.Size()})
	}
	return nil
}

// readSample returns up to filter.SampleSize leading bytes of a file,
// opened through the containment root.
func readSample(root *os.Root, rel string) ([]byte, error) {
	f, err := root.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, filter.SampleSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf[:n], nil
}

// TreeText renders entries in the wire format of the tree listing: one
// "relpath<TAB>size" line per file, preceded by a root banner.
func TreeText(root string, entries []Entry) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# TREE: %s\n", root)
	b.WriteString("# rel_path\tsize_bytes\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s\t%d\n", e.RelPath, e.Size)
	}
	return []byte(b.String())
}
