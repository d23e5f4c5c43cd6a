package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thordata/thordata-llm-code-share/internal/logging"
)

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the snapshot bundle and exit",
		Long: "Build creates the persisted chunk bundle for every configured repo\n" +
			"and prints the build metadata as JSON. Useful from cron or CI so the\n" +
			"server never has to build on demand.",
		RunE: runBuild,
	}

	addRepoFlags(cmd)
	cmd.Flags().Bool("refresh", false, "Rebuild even when a snapshot already exists")

	return cmd
}

func runBuild(cmd *cobra.Command, args []string) error {
	logger := logging.GetDefault()

	_, set, err := loadRepos(cmd)
	if err != nil {
		return err
	}
	refresh, _ := cmd.Flags().GetBool("refresh")

	for _, rp := range set.All() {
		logger.Info("Building snapshot", "repo", rp.Name, "root", rp.Root, "refresh", refresh)
		meta, err := rp.Build(refresh)
		if err != nil {
			return fmt.Errorf("building %q: %w", rp.Name, err)
		}

		out, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding metadata for %q: %w", rp.Name, err)
		}
		fmt.Fprintln(os.Stdout, string(out))
	}
	return nil
}
