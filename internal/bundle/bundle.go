// Package bundle partitions a scanned file list into size-bounded text
// chunks for whole-snapshot retrieval. A chunk is always a whole number of
// whole files: content is never split across a chunk boundary, so a
// downstream text consumer can attribute every span of a chunk to a source
// path via its FILE: header.
package bundle

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Thordata/thordata-llm-code-share/internal/filter"
	"github.com/Thordata/thordata-llm-code-share/internal/logging"
	"github.com/Thordata/thordata-llm-code-share/internal/scan"
)

// Defaults mirror the served deployment profile: chunks around 0.6 MB keep
// fetches comfortably inside crawler and tunnel timeouts, and a 3 MB lid on
// any single file stops giant generated JSON from swallowing the budget.
const (
	DefaultChunkBytes         = 600_000
	DefaultMaxSingleFileBytes = 3_000_000
)

const headerRule = "========================================================================"

// Config bounds a build.
type Config struct {
	// ChunkBytes is the target upper bound for one chunk. A single file
	// whose header+content exceeds it still becomes its own chunk.
	ChunkBytes int

	// MaxSingleFileBytes caps the content read from any one file; the
	// remainder is dropped and the truncation recorded.
	MaxSingleFileBytes int
}

func (c Config) withDefaults() Config {
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = DefaultChunkBytes
	}
	if c.MaxSingleFileBytes <= 0 {
		c.MaxSingleFileBytes = DefaultMaxSingleFileBytes
	}
	return c
}

// Chunk is one 1-indexed bundle piece plus the span facts the index needs.
type Chunk struct {
	Data      []byte
	Files     int
	FirstPath string
	LastPath  string
}

// Meta is the metadata record of one completed build. It is written once
// per successful build and read-only afterwards.
type Meta struct {
	Root               string    `json:"root"`
	GeneratedAt        time.Time `json:"generated_at"`
	Fingerprint        string    `json:"fingerprint"`
	RuleFingerprint    string    `json:"rule_fingerprint"`
	ChunkBytes         int       `json:"chunk_bytes"`
	MaxSingleFileBytes int       `json:"max_single_file_bytes"`
	IgnoreLockFiles    bool      `json:"ignore_lock_files"`
	ChunkCount         int       `json:"chunk_count"`
	ChunkFiles         []string  `json:"chunk_files"`
	FilesIncluded      int       `json:"files_included"`
	TotalBytes         int64     `json:"total_bytes"`
	TruncatedFiles     int       `json:"truncated_files"`
	SkippedEntries     int       `json:"skipped_entries"`
	Commit             string    `json:"commit,omitempty"`
	Branch             string    `json:"branch,omitempty"`
	BuildSeconds       float64   `json:"build_seconds"`
}

// Result is the full output of one build: the chunks, the rendered index
// document, and the metadata record.
type Result struct {
	Chunks []Chunk
	Index  []byte
	Meta   Meta
}

// ChunkFileName returns the persisted name of the n-th chunk (1-indexed).
func ChunkFileName(n int) string {
	return fmt.Sprintf("bundle_%04d.txt", n)
}

// Fingerprint digests the ordered relative path list. Two builds over the
// same visible file set share a fingerprint even when contents differ;
// it answers "did the shape of the tree change", not "did any byte change".
func Fingerprint(entries []scan.Entry) string {
	h := sha1.New()
	for _, e := range entries {
		h.Write([]byte(e.RelPath))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FileHeader renders the block header preceding one file's content inside
// a chunk. size is the original on-disk size, not the truncated length.
func FileHeader(relPath string, size int64, truncated bool) []byte {
	flag := "no"
	if truncated {
		flag = "yes"
	}
	return []byte(fmt.Sprintf("\n\n%s\nFILE: %s\nSIZE: %d\nTRUNCATED: %s\n%s\n",
		headerRule, relPath, size, flag, headerRule))
}

type builder struct {
	cfg    Config
	chunks []Chunk

	current   []byte
	files     int
	firstPath string
	lastPath  string
}

func (b *builder) flush() {
	if len(b.current) == 0 {
		return
	}
	b.chunks = append(b.chunks, Chunk{
		Data:      b.current,
		Files:     b.files,
		FirstPath: b.firstPath,
		LastPath:  b.lastPath,
	})
	b.current = nil
	b.files = 0
	b.firstPath = ""
	b.lastPath = ""
}

func (b *builder) append(relPath string, block []byte) {
	// Close the running chunk when the block does not fit. An oversized
	// block lands in a chunk of its own; it is never split.
	if len(b.current) > 0 && len(b.current)+len(block) > b.cfg.ChunkBytes {
		b.flush()
	}
	if b.firstPath == "" && relPath != "" {
		b.firstPath = relPath
	}
	if relPath != "" {
		b.lastPath = relPath
		b.files++
	}
	b.current = append(b.current, block...)
}

// Build reads every scanned entry through the containment root and
// assembles the chunk sequence, index and metadata. Entries that cannot be
// read any more (deleted or permission-flipped since the scan) are skipped
// and counted, never fatal.
func Build(sc *scan.Scanner, rules *filter.RuleSet, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	started := time.Now()

	entries, stats, err := sc.Scan()
	if err != nil {
		return nil, fmt.Errorf("scanning for bundle build: %w", err)
	}

	root, err := os.OpenRoot(sc.Root())
	if err != nil {
		return nil, fmt.Errorf("opening bundle root: %w", err)
	}
	defer root.Close()

	fp := Fingerprint(entries)
	generated := time.Now()

	b := &builder{cfg: cfg}
	b.append("", preamble(sc.Root(), generated, fp))

	included := 0
	truncated := 0
	skipped := stats.Skipped
	for _, e := range entries {
		content, wasTruncated, err := readLimited(root, e.RelPath, cfg.MaxSingleFileBytes)
		if err != nil {
			skipped++
			continue
		}
		if wasTruncated {
			truncated++
		}

		block := FileHeader(e.RelPath, e.Size, wasTruncated)
		block = append(block, content...)
		b.append(e.RelPath, block)
		included++
	}
	b.flush()

	var total int64
	chunkFiles := make([]string, len(b.chunks))
	for i, c := range b.chunks {
		total += int64(len(c.Data))
		chunkFiles[i] = ChunkFileName(i + 1)
	}

	meta := Meta{
		Root:               sc.Root(),
		GeneratedAt:        generated,
		Fingerprint:        fp,
		RuleFingerprint:    rules.Fingerprint(),
		ChunkBytes:         cfg.ChunkBytes,
		MaxSingleFileBytes: cfg.MaxSingleFileBytes,
		IgnoreLockFiles:    rules.IgnoreLockFiles,
		ChunkCount:         len(b.chunks),
		ChunkFiles:         chunkFiles,
		FilesIncluded:      included,
		TotalBytes:         total,
		TruncatedFiles:     truncated,
		SkippedEntries:     skipped,
		BuildSeconds:       time.Since(started).Seconds(),
	}

	logging.Info("Bundle build complete",
		"root", sc.Root(),
		"chunks", meta.ChunkCount,
		"files", included,
		"bytes", total,
		"truncated", truncated,
		"skipped", skipped,
	)

	return &Result{
		Chunks: b.chunks,
		Index:  renderIndex(meta, b.chunks),
		Meta:   meta,
	}, nil
}

// readLimited reads at most limit+ bytes of rel through the root handle and
// reports whether the file had more content than the limit.
func readLimited(root *os.Root, rel string, limit int) ([]byte, bool, error) {
	f, err := root.Open(rel)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	// Read one byte past the limit to distinguish "exactly limit" from
	// "truncated at limit" without a second stat.
	data, err := io.ReadAll(io.LimitReader(f, int64(limit)+1))
	if err != nil {
		return nil, false, err
	}
	if len(data) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

func preamble(root string, generated time.Time, fingerprint string) []byte {
	return []byte(fmt.Sprintf(
		"# LLM BUNDLE (chunked)\n"+
			"# ROOT: %s\n"+
			"# GENERATED_AT: %s\n"+
			"# FINGERPRINT: %s\n"+
			"# NOTE: Fetch /all for index, then /all?part=N for chunks.\n\n",
		root, generated.Format(time.RFC3339), fingerprint))
}

// renderIndex produces the small discovery document served on /all: build
// facts plus one line per chunk with its size and file span, so a client
// can pick the right chunk for a path without fetching all of them.
func renderIndex(meta Meta, chunks []Chunk) []byte {
	var b strings.Builder
	b.WriteString("# /all INDEX (FAST)\n")
	fmt.Fprintf(&b, "# generated_at: %s\n", meta.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "# fingerprint: %s\n", meta.Fingerprint)
	fmt.Fprintf(&b, "# bundles: %d\n", meta.ChunkCount)
	fmt.Fprintf(&b, "# build_seconds: %.3f\n\n", meta.BuildSeconds)

	b.WriteString("How to read:\n")
	b.WriteString("  1) GET /all  -> this index\n")
	b.WriteString("  2) GET /all?part=N  (N starts at 1)\n")
	b.WriteString("  3) Or use /tree + /file?path=... for precise reading\n\n")

	b.WriteString("Chunks:\n")
	for i, c := range chunks {
		n := i + 1
		fmt.Fprintf(&b, "  - part=%d\tGET /all?part=%d\t(%s)\tbytes=%d\tfiles=%d\tspan=%s..%s\n",
			n, n, ChunkFileName(n), len(c.Data), c.Files, c.FirstPath, c.LastPath)
	}
	return []byte(b.String())
}
