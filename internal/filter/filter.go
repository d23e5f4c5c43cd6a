// Package filter decides which paths of a shared repository are visible to
// remote readers. Classification is a pure function of the rule set and its
// inputs: no I/O happens here beyond inspecting a byte sample supplied by
// the caller. The same rule set is evaluated by both the tree scanner and
// the single-file reader so the two paths never disagree on visibility.
//
// Secret detection is name and extension based (.env, .pem, .key and
// friends) and is explicitly non-exhaustive: it blocks the common cases,
// it does not guarantee that no secret ever leaves the tree.
package filter

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
)

// Reason identifies why a path was hidden from remote readers.
type Reason string

const (
	ReasonIgnoredDir Reason = "ignored-dir"
	ReasonSecretName Reason = "secret-name"
	ReasonSecretExt  Reason = "secret-ext"
	ReasonBinary     Reason = "binary"
	ReasonSymlink    Reason = "symlink"
	ReasonLockfile   Reason = "lockfile"
	ReasonGithub     Reason = "github"
)

// Classification is the outcome of evaluating a path against a RuleSet.
// When Visible is false, Reason carries the first rule that matched.
type Classification struct {
	Visible bool
	Reason  Reason
}

var visible = Classification{Visible: true}

func hidden(r Reason) Classification {
	return Classification{Visible: false, Reason: r}
}

// SampleSize is the number of leading bytes callers should hand to Classify
// for the binary heuristic. Reading more buys nothing: a null byte in the
// first 4 KB catches virtually every real binary format.
const SampleSize = 4096

// ignoredDirs are directory names pruned without descending: version
// control, IDE state, dependency trees and build outputs across the
// common ecosystems.
var ignoredDirs = map[string]struct{}{
	// VCS
	".git": {}, ".svn": {}, ".hg": {},

	// IDE / editor
	".idea": {}, ".vscode": {}, ".vs": {}, ".fleet": {}, ".settings": {},

	// Python
	"__pycache__": {}, ".pytest_cache": {}, ".mypy_cache": {}, ".ruff_cache": {},
	".tox": {}, "venv": {}, ".venv": {}, "env": {}, ".envdir": {},
	"build": {}, "dist": {}, ".eggs": {},

	// Node / frontend
	"node_modules": {}, ".npm": {}, ".yarn": {}, ".pnpm-store": {},
	".next": {}, ".nuxt": {}, ".svelte-kit": {}, ".astro": {}, ".cache": {},
	"coverage": {}, ".nyc_output": {},

	// Go
	"vendor": {}, "bin": {}, "out": {},

	// Java / JVM
	"target": {}, ".gradle": {}, "gradle": {},

	// Logs / temp
	"logs": {}, "log": {}, "tmp": {}, "temp": {},
}

// ignoredFiles are exact file names blocked outright: secrets, private
// keys, coverage artifacts and OS junk.
var ignoredFiles = map[string]struct{}{
	// secrets / env
	".env": {}, ".env.local": {}, ".env.dev": {}, ".env.prod": {},
	".env.test": {}, ".env.staging": {}, ".env.production": {},
	".npmrc": {}, ".pypirc": {},

	// common private key names
	"id_rsa": {}, "id_ed25519": {},

	// coverage artifacts
	".coverage": {}, "coverage.xml": {}, "lcov.info": {},

	// OS junk
	"Thumbs.db": {}, "Desktop.ini": {}, ".DS_Store": {},

	// packaging metadata
	"SOURCES.txt": {}, "PKG-INFO": {},

	// submodules carry .git as a file
	".git": {}, ".gitmodules": {},
}

// ignoredExts are suffixes never served: binaries, archives, media, and
// certificate or key material.
var ignoredExts = map[string]struct{}{
	// binaries / libs
	".exe": {}, ".dll": {}, ".so": {}, ".dylib": {},

	// archives
	".zip": {}, ".7z": {}, ".rar": {}, ".tar": {}, ".gz": {},

	// images
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {},
	".ico": {}, ".svg": {},

	// media
	".mp4": {}, ".mp3": {}, ".wav": {},

	// secrets / certs
	".pem": {}, ".key": {}, ".p12": {}, ".pfx": {},

	// JVM artifacts
	".class": {}, ".jar": {},
}

// RuleSet is the ordered collection of visibility predicates shared by the
// scanner and the file reader. Construct it once per repository with
// NewRuleSet; the zero value hides nothing and should not be used.
type RuleSet struct {
	// CacheDirName is the bundle cache directory under the repository
	// root. It is always pruned so a build never recurses into its own
	// output.
	CacheDirName string

	// IgnoreLockFiles hides *.lock files. They are noisy and can be
	// large, and are rarely worth model context.
	IgnoreLockFiles bool

	// ExcludeGithub additionally hides the .github directory.
	ExcludeGithub bool
}

// NewRuleSet returns a rule set with the given cache directory name and
// toggles. cacheDirName must be the bare directory name, not a path.
func NewRuleSet(cacheDirName string, ignoreLockFiles, excludeGithub bool) *RuleSet {
	return &RuleSet{
		CacheDirName:    cacheDirName,
		IgnoreLockFiles: ignoreLockFiles,
		ExcludeGithub:   excludeGithub,
	}
}

// IgnoredDir reports whether a single directory name prunes its whole
// subtree, and the reason when it does.
func (rs *RuleSet) IgnoredDir(name string) (bool, Reason) {
	if rs.ExcludeGithub && name == ".github" {
		return true, ReasonGithub
	}
	if name == rs.CacheDirName && rs.CacheDirName != "" {
		return true, ReasonIgnoredDir
	}
	if _, ok := ignoredDirs[name]; ok {
		return true, ReasonIgnoredDir
	}
	if strings.HasSuffix(strings.ToLower(name), ".egg-info") {
		return true, ReasonIgnoredDir
	}
	return false, ""
}

// IgnoredFile reports whether a bare file name is blocked by a name or
// extension rule, and the reason when it is.
func (rs *RuleSet) IgnoredFile(name string) (bool, Reason) {
	if _, ok := ignoredFiles[name]; ok {
		return true, ReasonSecretName
	}
	lower := strings.ToLower(name)
	if rs.IgnoreLockFiles && strings.HasSuffix(lower, ".lock") {
		return true, ReasonLockfile
	}
	if strings.HasSuffix(lower, ".log") {
		return true, ReasonSecretName
	}
	if _, ok := ignoredExts[strings.ToLower(path.Ext(name))]; ok {
		return true, ReasonSecretExt
	}
	return false, ""
}

// Classify evaluates a slash-separated relative path against the rule set.
// Directory rules apply to every segment except the last, name and
// extension rules to the final segment, and the binary heuristic to the
// supplied byte sample (pass nil to skip it). Rules short-circuit in that
// order; the first match wins.
func (rs *RuleSet) Classify(relPath string, sample []byte) Classification {
	segments := strings.Split(relPath, "/")
	for _, seg := range segments[:len(segments)-1] {
		if ok, reason := rs.IgnoredDir(seg); ok {
			return hidden(reason)
		}
	}
	name := segments[len(segments)-1]
	if ok, reason := rs.IgnoredFile(name); ok {
		return hidden(reason)
	}
	if LooksBinary(sample) {
		return hidden(ReasonBinary)
	}
	return visible
}

// LooksBinary reports whether a leading byte sample smells like binary
// content. A null byte anywhere in the sample is treated as binary. This
// is a heuristic: false negatives are acceptable, the chunk consumer is a
// text client and tolerates the occasional odd byte.
func LooksBinary(sample []byte) bool {
	return bytes.IndexByte(sample, 0) >= 0
}

// Fingerprint returns a stable digest of the rule configuration. It is
// recorded in the cache metadata so a reader can tell whether two builds
// ran under the same visibility rules.
func (rs *RuleSet) Fingerprint() string {
	h := sha1.New()
	fmt.Fprintf(h, "cache=%s\nlock=%t\ngithub=%t\n",
		rs.CacheDirName, rs.IgnoreLockFiles, rs.ExcludeGithub)
	return hex.EncodeToString(h.Sum(nil))
}
