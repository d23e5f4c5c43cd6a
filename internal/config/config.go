package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/Thordata/thordata-llm-code-share/internal/logging"
)

const AppName = "codeshare" // application name used for the config directory

// Safe-by-default settings: bind loopback only, modest chunk sizes, and
// ignore lockfiles. Exposure beyond localhost is an explicit choice.
const (
	DefaultBind               = "127.0.0.1"
	DefaultPort               = 8080
	DefaultCacheDirName       = ".llm_cache"
	DefaultChunkBytes         = 600_000
	DefaultMaxSingleFileBytes = 3_000_000
)

// RepoConfig describes one served repository. Zero-valued limit fields
// inherit the server defaults at resolve time.
type RepoConfig struct {
	// Name identifies the repository in multi-repo routing (/r/<name>/).
	Name string `yaml:"name"`

	// Root is the path of the served tree.
	Root string `yaml:"root"`

	CacheDirName       string `yaml:"cache_dirname,omitempty"`
	ChunkBytes         int    `yaml:"chunk_bytes,omitempty"`
	MaxSingleFileBytes int    `yaml:"max_single_file_bytes,omitempty"`

	// IgnoreLockFiles defaults to true when unset.
	IgnoreLockFiles *bool `yaml:"ignore_lock_files,omitempty"`

	ExcludeGithub bool `yaml:"exclude_github,omitempty"`

	// AutoBuild builds the cache lazily on the first snapshot request
	// instead of requiring an explicit build call.
	AutoBuild bool `yaml:"auto_build,omitempty"`
}

// Config holds the server configuration.
type Config struct {
	Bind  string       `yaml:"bind"`
	Port  int          `yaml:"port"`
	Repos []RepoConfig `yaml:"repos"`
}

// Default returns a configuration with the safe defaults and no repos.
func Default() *Config {
	return &Config{
		Bind: DefaultBind,
		Port: DefaultPort,
	}
}

// ConfigPath returns the standard config file path for the current platform.
func ConfigPath() string {
	path := filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
	logging.Debug("Determined config path", "path", path)
	return path
}

// Load reads the config from the standard location. A missing file is not
// an error: the server can run on flags alone, so defaults are returned.
func Load() (*Config, error) {
	path := ConfigPath()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			logging.Debug("No config file, using defaults", "path", path)
			return Default(), nil
		}
		return nil, fmt.Errorf("cannot access config file: %w", err)
	}
	return LoadFrom(path)
}

// LoadFrom loads config from a specific path.
func LoadFrom(path string) (*Config, error) {
	logging.Info("Reading config file", "path", path)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to the standard location, creating the config
// directory if needed.
func (c *Config) Save() error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	logging.Info("Config saved", "path", path)
	return nil
}

// Validate checks structural soundness: a sane port, unique repo names,
// non-empty roots.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	seen := make(map[string]struct{}, len(c.Repos))
	for i, r := range c.Repos {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("repo %d: name cannot be empty", i)
		}
		if strings.ContainsAny(r.Name, "/\\ ") {
			return fmt.Errorf("repo %q: name must not contain slashes or spaces", r.Name)
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("duplicate repo name: %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		if strings.TrimSpace(r.Root) == "" {
			return fmt.Errorf("repo %q: root cannot be empty", r.Name)
		}
	}
	return nil
}

// Resolved fills a repo's zero-valued fields from the defaults and
// normalizes its root to an absolute path.
func (c *Config) Resolved(r RepoConfig) (RepoConfig, error) {
	abs, err := filepath.Abs(r.Root)
	if err != nil {
		return RepoConfig{}, fmt.Errorf("repo %q: cannot resolve root: %w", r.Name, err)
	}
	r.Root = abs

	if r.CacheDirName == "" {
		r.CacheDirName = DefaultCacheDirName
	}
	if r.ChunkBytes <= 0 {
		r.ChunkBytes = DefaultChunkBytes
	}
	if r.MaxSingleFileBytes <= 0 {
		r.MaxSingleFileBytes = DefaultMaxSingleFileBytes
	}
	if r.IgnoreLockFiles == nil {
		t := true
		r.IgnoreLockFiles = &t
	}
	return r, nil
}
