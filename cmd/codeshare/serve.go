package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thordata/thordata-llm-code-share/internal/config"
	"github.com/Thordata/thordata-llm-code-share/internal/httpserver"
	"github.com/Thordata/thordata-llm-code-share/internal/logging"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tree over HTTP",
		Long: "Serve starts the HTTP listener. With --root (or no config file) it\n" +
			"serves a single directory at /tree, /file, /build, /meta and /all;\n" +
			"with a config file listing repos it serves them under /r/<name>/.",
		RunE: runServe,
	}

	addRepoFlags(cmd)
	cmd.Flags().String("bind", config.DefaultBind, "Listen interface")
	cmd.Flags().Int("port", config.DefaultPort, "Listen port")
	cmd.Flags().Bool("warmup", false, "Build missing snapshots before accepting connections")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.GetDefault()

	cfg, set, err := loadRepos(cmd)
	if err != nil {
		return err
	}

	bind := cfg.Bind
	port := cfg.Port
	if cmd.Flags().Changed("bind") {
		bind, _ = cmd.Flags().GetString("bind")
	}
	if cmd.Flags().Changed("port") {
		port, _ = cmd.Flags().GetInt("port")
	}

	if warmup, _ := cmd.Flags().GetBool("warmup"); warmup {
		for _, rp := range set.All() {
			logger.Info("Warming up snapshot", "repo", rp.Name)
			if _, err := rp.Build(false); err != nil {
				return fmt.Errorf("warmup build for %q: %w", rp.Name, err)
			}
		}
	}

	for _, rp := range set.All() {
		logger.Info("Serving repo", "name", rp.Name, "root", rp.Root)
	}
	if bind != config.DefaultBind {
		logger.Warn("Binding beyond loopback exposes the tree to the network", "bind", bind)
	}

	srv := httpserver.NewServer(httpserver.ServerConfig{
		Bind:    bind,
		Port:    port,
		Handler: httpserver.NewHandler(set, logger),
		Logger:  logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return srv.Serve(ctx)
}
