// Package repo binds one served source tree to its filter rules, scanner
// and snapshot store, and exposes the operations the transport layers
// (HTTP and MCP) call. The transports only translate requests and map
// errors; all behavior lives here and below.
package repo

import (
	"fmt"
	"io"

	"github.com/Thordata/thordata-llm-code-share/internal/bundle"
	"github.com/Thordata/thordata-llm-code-share/internal/cache"
	"github.com/Thordata/thordata-llm-code-share/internal/config"
	"github.com/Thordata/thordata-llm-code-share/internal/filter"
	"github.com/Thordata/thordata-llm-code-share/internal/logging"
	"github.com/Thordata/thordata-llm-code-share/internal/reader"
	"github.com/Thordata/thordata-llm-code-share/internal/scan"
)

// Repo is one served repository: a root directory, the rules filtering
// it, and the snapshot store persisting its chunked bundle.
type Repo struct {
	Name string
	Root string

	// AutoBuild builds the snapshot lazily on the first chunk request.
	AutoBuild bool

	rules        *filter.RuleSet
	scanner      *scan.Scanner
	store        *cache.Store
	maxFileBytes int
}

// New builds a Repo from a resolved repo config. The root must exist
// and be a directory.
func New(rc config.RepoConfig) (*Repo, error) {
	ignoreLocks := rc.IgnoreLockFiles == nil || *rc.IgnoreLockFiles
	rules := filter.NewRuleSet(rc.CacheDirName, ignoreLocks, rc.ExcludeGithub)

	sc, err := scan.New(rc.Root, rules)
	if err != nil {
		return nil, fmt.Errorf("repo %q: %w", rc.Name, err)
	}

	cfg := bundle.Config{
		ChunkBytes:         rc.ChunkBytes,
		MaxSingleFileBytes: rc.MaxSingleFileBytes,
	}
	store := cache.NewStore(sc, rules, cfg, rc.CacheDirName)

	logging.Debug("Repo initialized",
		"name", rc.Name,
		"root", rc.Root,
		"cache_dir", store.Dir(),
		"auto_build", rc.AutoBuild)

	return &Repo{
		Name:         rc.Name,
		Root:         rc.Root,
		AutoBuild:    rc.AutoBuild,
		rules:        rules,
		scanner:      sc,
		store:        store,
		maxFileBytes: rc.MaxSingleFileBytes,
	}, nil
}

// ListTree scans the tree and returns the visible entries with scan
// statistics. Every call walks the live filesystem.
func (r *Repo) ListTree() ([]scan.Entry, scan.Stats, error) {
	return r.scanner.Scan()
}

// TreeText renders the tree listing in the tab-separated text form
// served at /tree.
func (r *Repo) TreeText() ([]byte, error) {
	entries, stats, err := r.scanner.Scan()
	if err != nil {
		return nil, err
	}
	logging.Debug("Tree listed",
		"repo", r.Name, "files", stats.Files, "skipped", stats.Skipped)
	return scan.TreeText(r.Root, entries), nil
}

// ReadFile returns one visible file, truncated at the repo's single-file
// limit. Hidden, binary and out-of-root paths are rejected.
func (r *Repo) ReadFile(relPath string) (*reader.Result, error) {
	return reader.ReadFile(r.Root, relPath, r.rules, r.maxFileBytes)
}

// Build creates or refreshes the persisted snapshot. Concurrent callers
// queue on the store's build lock.
func (r *Repo) Build(refresh bool) (*bundle.Meta, error) {
	return r.store.Build(refresh)
}

// TryBuild is Build without queueing: it fails with ErrBuildInProgress
// when another build holds the lock.
func (r *Repo) TryBuild(refresh bool) (*bundle.Meta, error) {
	return r.store.TryBuild(refresh)
}

// Meta returns the persisted snapshot metadata.
func (r *Repo) Meta() (*bundle.Meta, error) {
	return r.store.Meta()
}

// MetaJSON returns the raw persisted metadata document.
func (r *Repo) MetaJSON() ([]byte, error) {
	return r.store.MetaJSON()
}

// Index returns the persisted chunk index.
func (r *Repo) Index() ([]byte, error) {
	return r.store.Index()
}

// OpenChunk opens chunk n (1-based) for streaming and returns its size.
func (r *Repo) OpenChunk(n int) (io.ReadCloser, int64, error) {
	return r.store.OpenChunk(n)
}

// Chunk reads chunk n (1-based) into memory.
func (r *Repo) Chunk(n int) ([]byte, error) {
	return r.store.Chunk(n)
}

// CacheDir returns the directory holding the persisted snapshot.
func (r *Repo) CacheDir() string {
	return r.store.Dir()
}

// EnsureBuilt builds the snapshot if auto-build is enabled and no
// structurally complete snapshot is on disk. With auto-build off it is
// a no-op; a missing snapshot then surfaces as ErrCacheMissing from the
// read path.
func (r *Repo) EnsureBuilt() error {
	if !r.AutoBuild || r.store.Present() {
		return nil
	}
	logging.Info("Auto-building snapshot", "repo", r.Name)
	_, err := r.store.Build(false)
	return err
}

// Set is an ordered collection of repos with name lookup, serving the
// multi-repo routes.
type Set struct {
	repos  []*Repo
	byName map[string]*Repo
}

// NewSet resolves and initializes every configured repo. Config order
// is preserved for listings.
func NewSet(cfg *config.Config) (*Set, error) {
	s := &Set{byName: make(map[string]*Repo, len(cfg.Repos))}
	for _, rc := range cfg.Repos {
		resolved, err := cfg.Resolved(rc)
		if err != nil {
			return nil, err
		}
		r, err := New(resolved)
		if err != nil {
			return nil, err
		}
		s.repos = append(s.repos, r)
		s.byName[r.Name] = r
	}
	return s, nil
}

// Get returns the repo registered under name.
func (s *Set) Get(name string) (*Repo, bool) {
	r, ok := s.byName[name]
	return r, ok
}

// All returns the repos in configuration order.
func (s *Set) All() []*Repo {
	return s.repos
}

// Len returns the number of repos.
func (s *Set) Len() int {
	return len(s.repos)
}
