// Package cache persists built bundles under a dedicated directory in the
// served repository and answers the fast read paths: meta, index and chunk
// fetches stream straight from disk without touching the source tree.
//
// Builds follow a single-writer discipline and install atomically: a new
// snapshot is assembled in a temporary sibling directory and swapped into
// place with directory renames, so concurrent readers either see the old
// snapshot or the new one, never a partially written mix. A build that
// fails or is interrupted leaves the previously installed cache untouched.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Thordata/thordata-llm-code-share/internal/bundle"
	"github.com/Thordata/thordata-llm-code-share/internal/filter"
	"github.com/Thordata/thordata-llm-code-share/internal/logging"
	"github.com/Thordata/thordata-llm-code-share/internal/repoinfo"
	"github.com/Thordata/thordata-llm-code-share/internal/scan"
)

const (
	metaFileName  = "meta.json"
	indexFileName = "index.txt"
)

var (
	// ErrCacheMissing means no build has ever completed for this store.
	ErrCacheMissing = errors.New("cache missing, run build first")

	// ErrChunkOutOfRange means the requested part number is not in
	// [1, chunk count] of the installed snapshot.
	ErrChunkOutOfRange = errors.New("chunk number out of range")

	// ErrBuildInProgress is returned by TryBuild when another build
	// holds the writer lock.
	ErrBuildInProgress = errors.New("a build is already in progress")
)

// Store manages the persisted bundle cache of one repository.
type Store struct {
	scanner *scan.Scanner
	rules   *filter.RuleSet
	cfg     bundle.Config
	dir     string

	// buildMu serializes builds: at most one scan-and-write at a time.
	buildMu sync.Mutex

	// swapMu is held for writing only around the install renames, and
	// for reading around path resolution and file opens. Readers are
	// therefore never blocked by the long part of a build, only by the
	// few microseconds of the swap itself.
	swapMu sync.RWMutex
}

// NewStore creates a store persisting under <scanner root>/<dirName>.
// dirName must be a bare directory name; it should match the rule set's
// cache directory name so builds never ingest their own output.
func NewStore(sc *scan.Scanner, rules *filter.RuleSet, cfg bundle.Config, dirName string) *Store {
	return &Store{
		scanner: sc,
		rules:   rules,
		cfg:     cfg,
		dir:     filepath.Join(sc.Root(), dirName),
	}
}

// Dir returns the absolute cache directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Build produces and installs a snapshot. With refresh false and a valid
// cache already installed it is a no-op returning the existing metadata.
// Concurrent Build calls serialize on the writer lock.
func (s *Store) Build(refresh bool) (*bundle.Meta, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	return s.buildLocked(refresh)
}

// TryBuild is Build without waiting: when another build is running it
// fails fast with ErrBuildInProgress.
func (s *Store) TryBuild(refresh bool) (*bundle.Meta, error) {
	if !s.buildMu.TryLock() {
		return nil, ErrBuildInProgress
	}
	defer s.buildMu.Unlock()
	return s.buildLocked(refresh)
}

func (s *Store) buildLocked(refresh bool) (*bundle.Meta, error) {
	if !refresh && s.Present() {
		if meta, err := s.Meta(); err == nil {
			logging.Debug("Cache already present, skipping build", "dir", s.dir)
			return meta, nil
		}
	}

	res, err := bundle.Build(s.scanner, s.rules, s.cfg)
	if err != nil {
		return nil, err
	}

	// Git facts are optional metadata; a lookup failure is logged, not fatal.
	commit, branch, err := repoinfo.Head(s.scanner.Root())
	if err != nil {
		logging.Warn("Could not resolve git HEAD for cache meta", "error", err)
	}
	res.Meta.Commit = commit
	res.Meta.Branch = branch

	tmp, err := s.writeSnapshot(res)
	if err != nil {
		return nil, err
	}
	if err := s.install(tmp); err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}

	logging.Info("Cache installed", "dir", s.dir, "chunks", res.Meta.ChunkCount)
	return &res.Meta, nil
}

// writeSnapshot lays out a complete snapshot in a temporary sibling of the
// cache directory and returns its path. The metadata record is written
// last: a directory with meta.json is by construction complete.
func (s *Store) writeSnapshot(res *bundle.Result) (string, error) {
	parent := filepath.Dir(s.dir)
	tmp, err := os.MkdirTemp(parent, filepath.Base(s.dir)+".tmp-")
	if err != nil {
		return "", fmt.Errorf("creating snapshot temp dir: %w", err)
	}

	fail := func(err error) (string, error) {
		os.RemoveAll(tmp)
		return "", err
	}

	for i, c := range res.Chunks {
		name := filepath.Join(tmp, bundle.ChunkFileName(i+1))
		if err := os.WriteFile(name, c.Data, 0o644); err != nil {
			return fail(fmt.Errorf("writing chunk %d: %w", i+1, err))
		}
	}
	if err := os.WriteFile(filepath.Join(tmp, indexFileName), res.Index, 0o644); err != nil {
		return fail(fmt.Errorf("writing index: %w", err))
	}

	metaJSON, err := json.MarshalIndent(res.Meta, "", "  ")
	if err != nil {
		return fail(fmt.Errorf("encoding meta: %w", err))
	}
	if err := os.WriteFile(filepath.Join(tmp, metaFileName), metaJSON, 0o644); err != nil {
		return fail(fmt.Errorf("writing meta: %w", err))
	}

	return tmp, nil
}

// install swaps the snapshot at tmp into the live cache path. The rename
// pair runs under the write lock so no reader resolves paths mid-swap.
func (s *Store) install(tmp string) error {
	old := s.dir + ".old"
	os.RemoveAll(old)

	s.swapMu.Lock()
	replaced := false
	if _, err := os.Stat(s.dir); err == nil {
		if err := os.Rename(s.dir, old); err != nil {
			s.swapMu.Unlock()
			return fmt.Errorf("moving previous cache aside: %w", err)
		}
		replaced = true
	}
	if err := os.Rename(tmp, s.dir); err != nil {
		// Put the previous snapshot back; the failed build must not
		// leave the cache absent.
		if replaced {
			if restoreErr := os.Rename(old, s.dir); restoreErr != nil {
				s.swapMu.Unlock()
				return fmt.Errorf("installing cache failed (%v) and restore failed: %w", err, restoreErr)
			}
		}
		s.swapMu.Unlock()
		return fmt.Errorf("installing cache: %w", err)
	}
	s.swapMu.Unlock()

	os.RemoveAll(old)
	return nil
}

// Meta returns the metadata of the installed snapshot.
func (s *Store) Meta() (*bundle.Meta, error) {
	s.swapMu.RLock()
	defer s.swapMu.RUnlock()
	return s.loadMeta()
}

func (s *Store) loadMeta() (*bundle.Meta, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, metaFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrCacheMissing
		}
		return nil, fmt.Errorf("reading cache meta: %w", err)
	}
	var meta bundle.Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: corrupt meta record: %v", ErrCacheMissing, err)
	}
	return &meta, nil
}

// MetaJSON returns the raw persisted metadata record.
func (s *Store) MetaJSON() ([]byte, error) {
	s.swapMu.RLock()
	defer s.swapMu.RUnlock()
	if _, err := s.loadMeta(); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(s.dir, metaFileName))
}

// Index returns the rendered index document of the installed snapshot.
func (s *Store) Index() ([]byte, error) {
	s.swapMu.RLock()
	defer s.swapMu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, indexFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrCacheMissing
		}
		return nil, fmt.Errorf("reading cache index: %w", err)
	}
	return data, nil
}

// OpenChunk opens chunk n (1-indexed) for streaming and returns its size.
// The open happens under the read lock, so the returned handle belongs to
// one consistent snapshot even if a new build installs mid-stream.
func (s *Store) OpenChunk(n int) (io.ReadCloser, int64, error) {
	s.swapMu.RLock()
	defer s.swapMu.RUnlock()

	meta, err := s.loadMeta()
	if err != nil {
		return nil, 0, err
	}
	if n < 1 || n > meta.ChunkCount {
		return nil, 0, fmt.Errorf("%w: part %d of %d", ErrChunkOutOfRange, n, meta.ChunkCount)
	}

	f, err := os.Open(filepath.Join(s.dir, bundle.ChunkFileName(n)))
	if err != nil {
		return nil, 0, fmt.Errorf("opening chunk %d: %w", n, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat chunk %d: %w", n, err)
	}
	return f, info.Size(), nil
}

// Chunk reads chunk n fully into memory. Convenience over OpenChunk for
// callers that need bytes, not a stream.
func (s *Store) Chunk(n int) ([]byte, error) {
	f, _, err := s.OpenChunk(n)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Present reports whether a structurally valid snapshot is installed:
// parseable meta plus every chunk file and the index it references.
func (s *Store) Present() bool {
	s.swapMu.RLock()
	defer s.swapMu.RUnlock()

	meta, err := s.loadMeta()
	if err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(s.dir, indexFileName)); err != nil {
		return false
	}
	for i := 1; i <= meta.ChunkCount; i++ {
		if _, err := os.Stat(filepath.Join(s.dir, bundle.ChunkFileName(i))); err != nil {
			return false
		}
	}
	return true
}
