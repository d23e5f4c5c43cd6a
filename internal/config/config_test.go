package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Bind != "127.0.0.1" {
		t.Errorf("Bind = %q, want loopback default", cfg.Bind)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if len(cfg.Repos) != 0 {
		t.Errorf("Repos = %v, want empty", cfg.Repos)
	}
}

func TestLoadFrom(t *testing.T) {
	path := writeConfig(t, `
bind: 0.0.0.0
port: 9090
repos:
  - name: backend
    root: /srv/backend
    chunk_bytes: 100000
  - name: frontend
    root: /srv/frontend
    exclude_github: true
    auto_build: true
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Bind != "0.0.0.0" || cfg.Port != 9090 {
		t.Errorf("bind/port = %s/%d", cfg.Bind, cfg.Port)
	}
	if len(cfg.Repos) != 2 {
		t.Fatalf("len(Repos) = %d, want 2", len(cfg.Repos))
	}
	if cfg.Repos[0].Name != "backend" || cfg.Repos[0].ChunkBytes != 100000 {
		t.Errorf("repo[0] = %+v", cfg.Repos[0])
	}
	if !cfg.Repos[1].ExcludeGithub || !cfg.Repos[1].AutoBuild {
		t.Errorf("repo[1] toggles = %+v", cfg.Repos[1])
	}
}

func TestLoadFromPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "port: 3000\n")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.Bind != DefaultBind {
		t.Errorf("Bind = %q, want default retained", cfg.Bind)
	}
}

func TestLoadFromRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "repos: [unclosed\n")

	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom accepted malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {
			c.Repos = []RepoConfig{{Name: "a", Root: "/tmp/a"}}
		}, ""},
		{"bad port", func(c *Config) { c.Port = 0 }, "invalid port"},
		{"empty name", func(c *Config) {
			c.Repos = []RepoConfig{{Name: " ", Root: "/tmp/a"}}
		}, "name cannot be empty"},
		{"slash in name", func(c *Config) {
			c.Repos = []RepoConfig{{Name: "a/b", Root: "/tmp/a"}}
		}, "must not contain"},
		{"duplicate name", func(c *Config) {
			c.Repos = []RepoConfig{
				{Name: "a", Root: "/tmp/a"},
				{Name: "a", Root: "/tmp/b"},
			}
		}, "duplicate repo name"},
		{"empty root", func(c *Config) {
			c.Repos = []RepoConfig{{Name: "a", Root: ""}}
		}, "root cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolvedFillsDefaults(t *testing.T) {
	cfg := Default()

	r, err := cfg.Resolved(RepoConfig{Name: "a", Root: "/srv/repo"})
	if err != nil {
		t.Fatalf("Resolved: %v", err)
	}

	if r.CacheDirName != DefaultCacheDirName {
		t.Errorf("CacheDirName = %q", r.CacheDirName)
	}
	if r.ChunkBytes != DefaultChunkBytes {
		t.Errorf("ChunkBytes = %d", r.ChunkBytes)
	}
	if r.MaxSingleFileBytes != DefaultMaxSingleFileBytes {
		t.Errorf("MaxSingleFileBytes = %d", r.MaxSingleFileBytes)
	}
	if r.IgnoreLockFiles == nil || !*r.IgnoreLockFiles {
		t.Error("IgnoreLockFiles not defaulted to true")
	}
}

func TestResolvedKeepsExplicitValues(t *testing.T) {
	cfg := Default()
	off := false

	r, err := cfg.Resolved(RepoConfig{
		Name:            "a",
		Root:            "/srv/repo",
		ChunkBytes:      1234,
		IgnoreLockFiles: &off,
	})
	if err != nil {
		t.Fatalf("Resolved: %v", err)
	}
	if r.ChunkBytes != 1234 {
		t.Errorf("ChunkBytes = %d, want explicit 1234", r.ChunkBytes)
	}
	if *r.IgnoreLockFiles {
		t.Error("IgnoreLockFiles overridden back to true")
	}
}

func TestResolvedNormalizesRoot(t *testing.T) {
	cfg := Default()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	r, err := cfg.Resolved(RepoConfig{Name: "a", Root: "relative/dir"})
	if err != nil {
		t.Fatalf("Resolved: %v", err)
	}
	if r.Root != filepath.Join(cwd, "relative", "dir") {
		t.Errorf("Root = %q, want absolute under cwd", r.Root)
	}
}
