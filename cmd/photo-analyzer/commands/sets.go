package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/combination"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/results"
)

const defaultSetSize = 3

type setsFlags struct {
	size            int
	top             int
	maxSets         int
	maxCombinations uint64
	asJSON          bool
}

// NewSetsCommand creates the sets command.
func NewSetsCommand(g *Globals) *cobra.Command {
	flags := &setsFlags{}

	cmd := &cobra.Command{
		Use:   "sets [project-dir]",
		Short: "Rank candidate photo sets from the last batch results",
		Long: `Rank candidate photo sets from the last batch results.

Groups of --size photos are drawn from the --top highest scoring photos and
ranked by mean score, then by diversity: how much the photos' per-criterion
scores differ within the set. Higher diversity means more varied profiles.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSets(cmd, g, flags, projectArg(args))
		},
	}

	fs := cmd.Flags()
	fs.IntVarP(&flags.size, "size", "k", defaultSetSize, "photos per set")
	fs.IntVar(&flags.top, "top", 0, "only combine the N best photos (0 = all)")
	fs.IntVar(&flags.maxSets, "max-sets", 0, "number of sets to show (0 = all)")
	fs.Uint64Var(&flags.maxCombinations, "max-combinations", combination.DefaultMaxCombinations,
		"refuse to enumerate more combinations than this")
	fs.BoolVar(&flags.asJSON, "json", false, "print sets as JSON")

	return cmd
}

func runSets(cmd *cobra.Command, g *Globals, flags *setsFlags, projectDir string) error {
	cfg, err := g.LoadConfig()
	if err != nil {
		return err
	}

	doc, err := results.Load(projectDir)
	if err != nil {
		return err
	}

	items := doc.ScoredItems(cfg.Analysis.ScoreField, cfg.Analysis.CriteriaField)

	sets, err := combination.SelectCandidateSets(items, flags.size, combination.SelectOptions{
		PreFilterTopN:     flags.top,
		MaxSetsToEvaluate: flags.maxSets,
		MaxCombinations:   flags.maxCombinations,
	})
	if err != nil {
		if errors.Is(err, combination.ErrTooManyCombinations) {
			return fmt.Errorf("%w (narrow the pool with --top)", err)
		}

		return err
	}

	out := cmd.OutOrStdout()

	if flags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		return enc.Encode(sets)
	}

	if len(sets) == 0 {
		color.New(color.FgYellow).Fprintf(out, "No sets of %d: only %d scored photo(s)\n", flags.size, len(items))

		return nil
	}

	tbl := newTable(out)
	tbl.AppendHeader(table.Row{"#", "Photos", "Mean score", "Diversity"})

	for i, set := range sets {
		tbl.AppendRow(table.Row{
			i + 1,
			strings.Join(set.IDs(), ", "),
			fmt.Sprintf("%.2f", set.PreScore),
			fmt.Sprintf("%.2f", set.Diversity),
		})
	}

	tbl.Render()

	return nil
}
