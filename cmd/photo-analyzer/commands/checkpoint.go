package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/checkpoint"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/config"
)

// ErrNoCheckpoint is returned when a project has no readable checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// ErrInvalidCheckpoint is returned by checkpoint inspect for a document with schema violations.
var ErrInvalidCheckpoint = errors.New("checkpoint document is invalid")

const hashPreviewLen = 12

// NewCheckpointCommand creates the checkpoint command group.
func NewCheckpointCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or clear the resume checkpoint of a project",
	}

	var rubricPath string

	show := &cobra.Command{
		Use:   "show [project-dir]",
		Short: "Show batch progress and whether the checkpoint can be resumed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointShow(cmd, g, projectArg(args), rubricPath)
		},
	}
	show.Flags().StringVarP(&rubricPath, "rubric", "r", "", "check resumability against this rubric")

	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect [project-dir]",
		Short: "Validate the checkpoint file against its JSON schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointInspect(cmd, projectArg(args))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [project-dir]",
		Short: "Delete the checkpoint so the next run starts over",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointClear(cmd, g, projectArg(args))
		},
	})

	return cmd
}

func checkpointManager(cmd *cobra.Command, g *Globals) (*checkpoint.Manager, *config.Config, error) {
	cfg, err := g.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	return checkpoint.NewManager(
		checkpoint.WithMaxAge(cfg.Checkpoint.MaxAge),
		checkpoint.WithLogger(g.Logger(cfg, cmd.ErrOrStderr())),
	), cfg, nil
}

func runCheckpointShow(cmd *cobra.Command, g *Globals, projectDir, rubricPath string) error {
	mgr, cfg, err := checkpointManager(cmd, g)
	if err != nil {
		return err
	}

	cp := mgr.Load(projectDir)
	if cp == nil {
		return fmt.Errorf("%w in %s", ErrNoCheckpoint, projectDir)
	}

	out := cmd.OutOrStdout()
	printCheckpoint(out, cp)

	if rubricPath == "" {
		return nil
	}

	rubric, err := config.LoadRubric(rubricPath)
	if err != nil {
		return err
	}

	// Same prompt and mode resolution as analyze, so the hash matches.
	opts, err := runOptions(cfg, rubric, projectDir, projectDir)
	if err != nil {
		return err
	}

	res := mgr.Validate(cp, opts.Fingerprint())
	if res.Valid {
		color.New(color.FgGreen).Fprintf(out, "Resumable with %s\n", rubricPath)

		return nil
	}

	color.New(color.FgYellow).Fprintf(out, "Not resumable: %s\n", res.Reason)

	return nil
}

func printCheckpoint(w io.Writer, cp *checkpoint.Checkpoint) {
	tbl := newTable(w)

	tbl.AppendRow(table.Row{"Version", cp.Version})
	tbl.AppendRow(table.Row{"Config hash", preview(cp.ConfigHash)})

	if cp.Progress != nil {
		total := 0
		if cp.BatchMetadata != nil {
			total = cp.BatchMetadata.TotalPhotosInBatch
		}

		tbl.AppendRow(table.Row{"Status", cp.Progress.Status})
		tbl.AppendRow(table.Row{"Analyzed", fmt.Sprintf("%d / %d", cp.Progress.PhotosCount, total)})
		tbl.AppendRow(table.Row{"Failed", len(cp.Progress.FailedItems)})
	}

	if cp.BatchMetadata != nil {
		tbl.AppendRow(table.Row{"Photo directory", cp.BatchMetadata.PhotoDirectory})
		tbl.AppendRow(table.Row{"Checkpoint interval", cp.BatchMetadata.CheckpointInterval})
	}

	if cp.Metadata != nil {
		tbl.AppendRow(table.Row{"Created", formatTime(cp.Metadata.CreatedAt)})

		if cp.Metadata.LastResumedAt != nil {
			tbl.AppendRow(table.Row{"Last resumed", formatTime(*cp.Metadata.LastResumedAt)})
		}

		tbl.AppendRow(table.Row{"Updates", cp.Metadata.ResumeCount})
	}

	if cp.Results != nil {
		tbl.AppendRow(table.Row{"Last update", formatTime(cp.Results.LastUpdateTime)})
	}

	tbl.Render()
}

func runCheckpointInspect(cmd *cobra.Command, projectDir string) error {
	path := checkpoint.NewManager().Path(projectDir)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w in %s", ErrNoCheckpoint, projectDir)
		}

		return fmt.Errorf("read checkpoint: %w", err)
	}

	out := cmd.OutOrStdout()

	problems, err := checkpoint.CheckDocument(data)
	if err != nil {
		color.New(color.FgRed).Fprintf(out, "Checkpoint is not valid JSON (%s)\n", path)

		return err
	}

	if len(problems) == 0 {
		color.New(color.FgGreen).Fprintf(out, "Checkpoint is well-formed (%s)\n", path)

		return nil
	}

	color.New(color.FgRed).Fprintf(out, "Checkpoint has %d problem(s) (%s)\n", len(problems), path)

	for _, problem := range problems {
		color.New(color.FgRed).Fprintf(out, "  - %s\n", problem)
	}

	return fmt.Errorf("%w: %d problem(s)", ErrInvalidCheckpoint, len(problems))
}

func runCheckpointClear(cmd *cobra.Command, g *Globals, projectDir string) error {
	mgr, _, err := checkpointManager(cmd, g)
	if err != nil {
		return err
	}

	err = mgr.Delete(projectDir)
	if err != nil {
		return err
	}

	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Checkpoint cleared (%s)\n", mgr.Path(projectDir))

	return nil
}

func preview(hash string) string {
	if len(hash) <= hashPreviewLen {
		return hash
	}

	return hash[:hashPreviewLen]
}
