package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/alg/mapx"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/results"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/winners"
)

// ErrInvalidMetadata is returned for a --meta value that is not key=value.
var ErrInvalidMetadata = errors.New("metadata must be key=value")

type winnerFlags struct {
	tier        string
	competition string
	meta        []string
}

// NewWinnersCommand creates the winners command group.
func NewWinnersCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "winners",
		Short: "Tag winning photos and review what they have in common",
	}

	flags := &winnerFlags{}

	add := &cobra.Command{
		Use:   "add <project-dir> <photo-id>",
		Short: "Tag a photo as a winner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWinnersAdd(cmd, flags, args[0], args[1])
		},
	}

	fs := add.Flags()
	fs.StringVar(&flags.tier, "tier", string(winners.TierWinner), "winner, finalist or honourable_mention")
	fs.StringVar(&flags.competition, "competition", "", "competition name")
	fs.StringArrayVar(&flags.meta, "meta", nil, "extra key=value metadata (repeatable)")

	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "list [project-dir]",
		Short: "List tagged winners and their average criterion scores",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWinnersList(cmd, g, projectArg(args))
		},
	})

	return cmd
}

func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil //nolint:nilnil // no metadata is not an error.
	}

	meta := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMetadata, pair)
		}

		meta[key] = value
	}

	return meta, nil
}

func runWinnersAdd(cmd *cobra.Command, flags *winnerFlags, projectDir, itemID string) error {
	meta, err := parseMetadata(flags.meta)
	if err != nil {
		return err
	}

	w := winners.Winner{
		ItemID:      itemID,
		Tier:        winners.Tier(flags.tier),
		Competition: flags.competition,
		Metadata:    meta,
	}

	// Attach the payload the photo was judged on, if the last batch scored it.
	doc, err := results.Load(projectDir)
	switch {
	case err == nil:
		w.Score = doc.Scores[itemID]
	case !errors.Is(err, os.ErrNotExist):
		return err
	}

	err = winners.NewStore().Add(projectDir, w)
	if err != nil {
		return err
	}

	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Tagged %s as %s\n", itemID, w.Tier)

	return nil
}

func runWinnersList(cmd *cobra.Command, g *Globals, projectDir string) error {
	cfg, err := g.LoadConfig()
	if err != nil {
		return err
	}

	list, err := winners.NewStore().List(projectDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if len(list) == 0 {
		color.New(color.FgYellow).Fprintln(out, "No winners tagged yet")

		return nil
	}

	tbl := newTable(out)
	tbl.AppendHeader(table.Row{"Photo", "Tier", "Competition", "Score", "Tagged"})

	for _, w := range list {
		score := "-"
		if value, ok := results.ScoreOf(w.Score, cfg.Analysis.ScoreField); ok {
			score = fmt.Sprintf("%.2f", value)
		}

		tbl.AppendRow(table.Row{w.ItemID, w.Tier, w.Competition, score, formatTime(w.TaggedAt)})
	}

	tbl.Render()

	profile := winners.Profile(list, cfg.Analysis.CriteriaField)
	if len(profile) == 0 {
		return nil
	}

	fmt.Fprintln(out)

	criteria := newTable(out)
	criteria.AppendHeader(table.Row{"Criterion", "Winner average"})

	for _, name := range mapx.SortedKeys(profile) {
		criteria.AppendRow(table.Row{name, fmt.Sprintf("%.2f", profile[name])})
	}

	criteria.Render()

	return nil
}
