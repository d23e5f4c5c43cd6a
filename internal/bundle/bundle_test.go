package bundle

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Thordata/thordata-llm-code-share/internal/filter"
	"github.com/Thordata/thordata-llm-code-share/internal/scan"
)

func testRules() *filter.RuleSet {
	return filter.NewRuleSet(".llm_cache", true, false)
}

func buildTree(t *testing.T, files map[string][]byte, cfg Config) *Result {
	t.Helper()

	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, content, 0644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	sc, err := scan.New(root, testRules())
	if err != nil {
		t.Fatalf("scan.New: %v", err)
	}
	res, err := Build(sc, testRules(), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return res
}

// textOfSize produces printable content of exactly n bytes.
func textOfSize(n int) []byte {
	return bytes.Repeat([]byte("a"), n)
}

func TestBuildSingleChunk(t *testing.T) {
	res := buildTree(t, map[string][]byte{
		"a.txt":      []byte("alpha\n"),
		"b/beta.txt": []byte("beta\n"),
	}, Config{})

	if res.Meta.ChunkCount != 1 {
		t.Fatalf("ChunkCount = %d, want 1", res.Meta.ChunkCount)
	}
	if res.Meta.FilesIncluded != 2 {
		t.Errorf("FilesIncluded = %d, want 2", res.Meta.FilesIncluded)
	}

	data := string(res.Chunks[0].Data)
	if !strings.HasPrefix(data, "# LLM BUNDLE (chunked)\n") {
		t.Errorf("chunk 1 missing preamble: %q", data[:40])
	}
	for _, marker := range []string{"FILE: a.txt\n", "FILE: b/beta.txt\n", "alpha\n", "beta\n"} {
		if !strings.Contains(data, marker) {
			t.Errorf("chunk missing %q", marker)
		}
	}
	if !strings.Contains(data, "SIZE: 6\n") {
		t.Errorf("chunk missing original size header")
	}
}

// The oversized-single-file rule: a 3-file tree with sizes 100, 500000 and
// 700000 bytes under a 600000-byte budget packs the first two files into
// one chunk, and the third, alone over budget, into its own chunk.
func TestBuildOversizedFileGetsOwnChunk(t *testing.T) {
	res := buildTree(t, map[string][]byte{
		"file1.txt": textOfSize(100),
		"file2.txt": textOfSize(500_000),
		"file3.txt": textOfSize(700_000),
	}, Config{ChunkBytes: 600_000, MaxSingleFileBytes: 3_000_000})

	if res.Meta.ChunkCount != 2 {
		t.Fatalf("ChunkCount = %d, want 2", res.Meta.ChunkCount)
	}

	first, second := res.Chunks[0], res.Chunks[1]
	if first.FirstPath != "file1.txt" || first.LastPath != "file2.txt" || first.Files != 2 {
		t.Errorf("chunk 1 span = %s..%s (%d files), want file1.txt..file2.txt (2)",
			first.FirstPath, first.LastPath, first.Files)
	}
	if second.FirstPath != "file3.txt" || second.LastPath != "file3.txt" || second.Files != 1 {
		t.Errorf("chunk 2 span = %s..%s (%d files), want file3.txt alone",
			second.FirstPath, second.LastPath, second.Files)
	}
	if len(second.Data) <= 600_000 {
		t.Errorf("chunk 2 size = %d, expected to exceed the budget for a single oversized file", len(second.Data))
	}
	if res.Meta.TruncatedFiles != 0 {
		t.Errorf("TruncatedFiles = %d, want 0", res.Meta.TruncatedFiles)
	}
}

// No file's content may be split across chunks, and the chunk bytes must
// account for every included byte plus header overhead.
func TestBuildWholeFilesPerChunk(t *testing.T) {
	files := map[string][]byte{}
	var contentTotal int64
	for i := 0; i < 12; i++ {
		c := textOfSize(40_000 + i)
		files[fmt.Sprintf("f%02d.txt", i)] = c
		contentTotal += int64(len(c))
	}
	res := buildTree(t, files, Config{ChunkBytes: 100_000, MaxSingleFileBytes: 3_000_000})

	seen := map[string]int{}
	var chunkTotal, headerTotal int64
	for _, c := range res.Chunks {
		chunkTotal += int64(len(c.Data))
		for name := range files {
			if bytes.Contains(c.Data, []byte("FILE: "+name+"\n")) {
				seen[name]++
			}
		}
	}
	for name, n := range seen {
		if n != 1 {
			t.Errorf("file %s appears in %d chunks, want exactly 1", name, n)
		}
	}
	if len(seen) != len(files) {
		t.Errorf("only %d of %d files present in chunks", len(seen), len(files))
	}

	// chunk bytes = content + per-file headers + bundle preamble
	for name, content := range files {
		headerTotal += int64(len(FileHeader(name, int64(len(content)), false)))
	}
	// the only remaining bytes should be the bundle preamble
	overhead := chunkTotal - contentTotal - headerTotal
	if overhead <= 0 || overhead > 1024 {
		t.Errorf("unaccounted chunk bytes: %d", overhead)
	}
	if res.Meta.TotalBytes != chunkTotal {
		t.Errorf("Meta.TotalBytes = %d, sum of chunks = %d", res.Meta.TotalBytes, chunkTotal)
	}
}

func TestBuildTruncatesOversizedFiles(t *testing.T) {
	res := buildTree(t, map[string][]byte{
		"big.txt":   textOfSize(10_000),
		"small.txt": []byte("ok"),
	}, Config{ChunkBytes: 600_000, MaxSingleFileBytes: 4_000})

	if res.Meta.TruncatedFiles != 1 {
		t.Fatalf("TruncatedFiles = %d, want 1", res.Meta.TruncatedFiles)
	}

	data := string(res.Chunks[0].Data)
	if !strings.Contains(data, "FILE: big.txt\nSIZE: 10000\nTRUNCATED: yes\n") {
		t.Errorf("missing truncation header for big.txt in %q", data)
	}
	if !strings.Contains(data, "FILE: small.txt\nSIZE: 2\nTRUNCATED: no\n") {
		t.Errorf("missing header for small.txt")
	}

	// truncated content is capped at the limit
	idx := strings.Index(data, "TRUNCATED: yes")
	rest := data[idx:]
	if count := strings.Count(rest, "a"); count > 4_001 {
		t.Errorf("truncated file contributed %d bytes, limit 4000", count)
	}
}

func TestBuildDeterministicAcrossRuns(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 8; i++ {
		name := filepath.Join(root, fmt.Sprintf("f%d.txt", i))
		if err := os.WriteFile(name, textOfSize(30_000), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	sc, err := scan.New(root, testRules())
	if err != nil {
		t.Fatalf("scan.New: %v", err)
	}

	cfg := Config{ChunkBytes: 100_000, MaxSingleFileBytes: 3_000_000}
	first, err := Build(sc, testRules(), cfg)
	if err != nil {
		t.Fatalf("first Build: %v", err)
	}
	second, err := Build(sc, testRules(), cfg)
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}

	if first.Meta.ChunkCount != second.Meta.ChunkCount {
		t.Fatalf("chunk counts differ: %d vs %d", first.Meta.ChunkCount, second.Meta.ChunkCount)
	}
	if first.Meta.Fingerprint != second.Meta.Fingerprint {
		t.Error("fingerprints differ for identical trees")
	}
	for i := range first.Chunks {
		a, b := first.Chunks[i], second.Chunks[i]
		if a.FirstPath != b.FirstPath || a.LastPath != b.LastPath {
			t.Errorf("chunk %d span differs: %s..%s vs %s..%s",
				i+1, a.FirstPath, a.LastPath, b.FirstPath, b.LastPath)
		}
	}
}

func TestBuildExcludesFilteredFiles(t *testing.T) {
	res := buildTree(t, map[string][]byte{
		"ok.go": []byte("package ok\n"),
		".env":  []byte("SECRET=x"),
	}, Config{})

	for _, c := range res.Chunks {
		if bytes.Contains(c.Data, []byte("SECRET=x")) {
			t.Error("secret file content leaked into a chunk")
		}
	}
	if res.Meta.FilesIncluded != 1 {
		t.Errorf("FilesIncluded = %d, want 1", res.Meta.FilesIncluded)
	}
}

func TestIndexRendering(t *testing.T) {
	res := buildTree(t, map[string][]byte{
		"a.txt": textOfSize(50_000),
		"b.txt": textOfSize(50_000),
		"c.txt": textOfSize(50_000),
	}, Config{ChunkBytes: 60_000, MaxSingleFileBytes: 3_000_000})

	idx := string(res.Index)
	if !strings.Contains(idx, "# /all INDEX (FAST)\n") {
		t.Errorf("index missing banner: %q", idx)
	}
	if !strings.Contains(idx, fmt.Sprintf("# bundles: %d\n", res.Meta.ChunkCount)) {
		t.Error("index missing bundle count")
	}
	for i := range res.Chunks {
		if !strings.Contains(idx, fmt.Sprintf("part=%d\t", i+1)) {
			t.Errorf("index missing line for part %d", i+1)
		}
	}
	if !strings.Contains(idx, "span=a.txt..") {
		t.Error("index missing file span for chunk 1")
	}
}

func TestFingerprintTracksFileSet(t *testing.T) {
	a := Fingerprint([]scan.Entry{{RelPath: "a"}, {RelPath: "b"}})
	b := Fingerprint([]scan.Entry{{RelPath: "a"}, {RelPath: "b"}})
	c := Fingerprint([]scan.Entry{{RelPath: "a"}, {RelPath: "c"}})

	if a != b {
		t.Error("same file set produced different fingerprints")
	}
	if a == c {
		t.Error("different file sets produced the same fingerprint")
	}
}

func TestChunkFileName(t *testing.T) {
	if got := ChunkFileName(1); got != "bundle_0001.txt" {
		t.Errorf("ChunkFileName(1) = %q", got)
	}
	if got := ChunkFileName(42); got != "bundle_0042.txt" {
		t.Errorf("ChunkFileName(42) = %q", got)
	}
}
