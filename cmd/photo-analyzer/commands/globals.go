// Package commands implements the photo-analyzer subcommands.
package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/pflag"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/config"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/observability"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/orchestrator"
)

// ErrNoPhotos is returned when a photo directory holds no supported image.
var ErrNoPhotos = errors.New("no photos found")

// photoExtensions are the file types sent to the analyzer.
var photoExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

// Globals are the root command's persistent flags.
type Globals struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
	JSONLogs   bool
}

// Bind registers the persistent flags on fs.
func (g *Globals) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&g.ConfigPath, "config", "c", "", "config file (default: photo-analyzer.yaml in . or ./config)")
	fs.BoolVarP(&g.Verbose, "verbose", "v", false, "verbose output")
	fs.BoolVarP(&g.Quiet, "quiet", "q", false, "suppress output")
	fs.BoolVar(&g.JSONLogs, "log-json", false, "write logs as JSON")
}

// LoadConfig loads the config file selected by --config.
func (g *Globals) LoadConfig() (*config.Config, error) {
	return config.LoadConfig(g.ConfigPath)
}

// LogLevel resolves the effective level from the flags and config.
func (g *Globals) LogLevel(cfg *config.Config) slog.Level {
	switch {
	case g.Verbose:
		return slog.LevelDebug
	case g.Quiet:
		return slog.LevelError
	}

	var level slog.Level

	err := level.UnmarshalText([]byte(cfg.Logging.Level))
	if err != nil {
		return slog.LevelInfo
	}

	return level
}

// LogConfig resolves the logging flags and config into observability form.
func (g *Globals) LogConfig(cfg *config.Config, w io.Writer) observability.LogConfig {
	return observability.LogConfig{
		Level:  g.LogLevel(cfg),
		JSON:   g.JSONLogs || cfg.Logging.Format == "json",
		Output: w,
	}
}

// Logger builds a logger for commands that do not start telemetry.
func (g *Globals) Logger(cfg *config.Config, w io.Writer) *slog.Logger {
	return observability.NewLogger(g.LogConfig(cfg, w), "", observability.ModeCLI)
}

// DiscoverItems lists the supported photos directly inside dir, sorted by
// file name. The file name is the item id.
func DiscoverItems(dir string) ([]orchestrator.Item, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read photo directory: %w", err)
	}

	items := make([]orchestrator.Item, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		if !slices.Contains(photoExtensions, strings.ToLower(filepath.Ext(entry.Name()))) {
			continue
		}

		items = append(items, orchestrator.Item{ID: entry.Name(), Path: filepath.Join(dir, entry.Name())})
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoPhotos, dir)
	}

	return items, nil
}

// projectArg returns args[0], or the working directory.
func projectArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}

	return "."
}
