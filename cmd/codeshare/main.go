// Command codeshare serves a filtered, read-only view of local source
// trees to LLM tools.
//
// It exposes three surfaces over the same engine: an HTTP server with
// plain-text responses (serve), a one-shot snapshot builder (build),
// and an MCP stdio server for AI assistants (mcp). Filtering, path
// containment and the chunked snapshot format are identical across all
// of them.
//
// Set DEBUG=1 for verbose logging to ./codeshare.log.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thordata/thordata-llm-code-share/internal/config"
	"github.com/Thordata/thordata-llm-code-share/internal/repo"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "codeshare",
		Short: "Share a local source tree with LLM tools, read-only",
		Long: "codeshare walks a source tree, filters out secrets, binaries and build\n" +
			"junk, and serves the rest as plain text: a file listing, single files,\n" +
			"and a chunked whole-tree bundle sized for LLM context windows.",
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newMCPCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print codeshare version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("codeshare %s\n", version)
		},
	}
}

// addRepoFlags registers the flags shared by every command that needs a
// configured repo set.
func addRepoFlags(cmd *cobra.Command) {
	cmd.Flags().String("root", "", "Directory to serve (single-repo mode; overrides the config file)")
	cmd.Flags().String("config", "", "Config file path (default: the standard user config location)")
	cmd.Flags().String("cache-dirname", config.DefaultCacheDirName, "Snapshot directory name inside the root")
	cmd.Flags().Int("chunk-bytes", config.DefaultChunkBytes, "Target chunk size in bytes")
	cmd.Flags().Int("max-single-file-bytes", config.DefaultMaxSingleFileBytes, "Per-file truncation limit in bytes")
	cmd.Flags().Bool("no-lock-ignore", false, "Include lockfiles (package-lock.json, *.lock, ...)")
	cmd.Flags().Bool("exclude-github", false, "Hide the .github directory")
	cmd.Flags().Bool("auto-build", false, "Build the snapshot lazily on the first bundle request")
}

// loadConfig resolves the effective configuration: an explicit --root
// wins, then an explicit --config file, then the standard config
// location, then the current directory.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	rootFlag, _ := cmd.Flags().GetString("root")
	configFlag, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	switch {
	case rootFlag != "":
		cfg = config.Default()
	case configFlag != "":
		cfg, err = config.LoadFrom(configFlag)
	default:
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if len(cfg.Repos) == 0 {
		root := rootFlag
		if root == "" {
			root, err = os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("cannot determine working directory: %w", err)
			}
		}

		cacheDirName, _ := cmd.Flags().GetString("cache-dirname")
		chunkBytes, _ := cmd.Flags().GetInt("chunk-bytes")
		maxFileBytes, _ := cmd.Flags().GetInt("max-single-file-bytes")
		noLockIgnore, _ := cmd.Flags().GetBool("no-lock-ignore")
		excludeGithub, _ := cmd.Flags().GetBool("exclude-github")
		autoBuild, _ := cmd.Flags().GetBool("auto-build")

		ignoreLocks := !noLockIgnore
		cfg.Repos = []config.RepoConfig{{
			Name:               "default",
			Root:               root,
			CacheDirName:       cacheDirName,
			ChunkBytes:         chunkBytes,
			MaxSingleFileBytes: maxFileBytes,
			IgnoreLockFiles:    &ignoreLocks,
			ExcludeGithub:      excludeGithub,
			AutoBuild:          autoBuild,
		}}
	}
	return cfg, nil
}

// loadRepos builds the repo set from the effective configuration.
func loadRepos(cmd *cobra.Command) (*config.Config, *repo.Set, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	set, err := repo.NewSet(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, set, nil
}
