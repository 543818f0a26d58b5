package commands

import (
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/cache"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/config"
)

// NewCacheCommand creates the cache command group.
func NewCacheCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the result cache of a project",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats [project-dir]",
		Short: "Show the number and size of cached results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheStats(cmd, g, projectArg(args))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [project-dir]",
		Short: "Delete all cached results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheClear(cmd, g, projectArg(args))
		},
	})

	return cmd
}

func cacheOptions(cfg *config.Config, memoryLimit int64, logger *slog.Logger) []cache.Option {
	opts := []cache.Option{cache.WithLogger(logger), cache.WithMemoryLimit(memoryLimit)}
	if cfg.Cache.Compress {
		opts = append(opts, cache.WithCompression())
	}

	return opts
}

func openCache(cmd *cobra.Command, g *Globals) (*cache.Manager, error) {
	cfg, err := g.LoadConfig()
	if err != nil {
		return nil, err
	}

	return cache.NewManager(cacheOptions(cfg, 0, g.Logger(cfg, cmd.ErrOrStderr()))...), nil
}

func runCacheStats(cmd *cobra.Command, g *Globals, projectDir string) error {
	mgr, err := openCache(cmd, g)
	if err != nil {
		return err
	}

	stats, err := mgr.Stats(projectDir)
	if err != nil {
		return err
	}

	tbl := newTable(cmd.OutOrStdout())
	tbl.AppendRows([]table.Row{
		{"Directory", cache.Dir(projectDir)},
		{"Entries", stats.TotalEntries},
		{"Size", formatBytes(stats.TotalSizeBytes)},
	})
	tbl.Render()

	return nil
}

func runCacheClear(cmd *cobra.Command, g *Globals, projectDir string) error {
	mgr, err := openCache(cmd, g)
	if err != nil {
		return err
	}

	stats, err := mgr.Stats(projectDir)
	if err != nil {
		return err
	}

	err = mgr.Clear(projectDir)
	if err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}

	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Removed %d cached result(s) (%s)\n",
		stats.TotalEntries, formatBytes(stats.TotalSizeBytes))

	return nil
}
