package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/storyline/pkg/pipeline"
	"github.com/matzehuels/storyline/pkg/query"
)

type layoutFlags struct {
	output  string
	query   string
	field   string
	noCache bool
	opts    pipeline.Options
}

// layoutCommand creates the layout command for computing storyline layouts.
func (c *CLI) layoutCommand() *cobra.Command {
	var f layoutFlags

	cmd := &cobra.Command{
		Use:   "layout [result.json|result.yaml]",
		Short: "Compute a storyline layout from a backend result",
		Long: `Compute a storyline layout from a backend result.

The input is a timeline result as returned by the search backend:

  {"timeline": {field: {value: {year: [clusterId, ...]}}},
   "numCooccurringEntities": N, "numIncludedCooccurringEntities": M}

YAML input is accepted for files ending in .yaml or .yml. The output is the
layout JSON consumed by renderers. Pass --query with the selection the result
answers to emphasize those entities and fill in the status line.

Results are cached locally for faster subsequent runs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.opts.Height = c.Config.Layout.Height
			f.opts.MarginSlots = c.Config.Layout.MarginSlots
			f.opts.Ordering = c.Config.Layout.Ordering
			return c.runLayout(cmd.Context(), args[0], f)
		},
	}

	cmd.Flags().StringVarP(&f.output, "output", "o", "", `output file, "-" for stdout (default: <input>.layout.json)`)
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "disable caching")
	cmd.Flags().BoolVar(&f.opts.Refresh, "refresh", false, "recompute even when cached")
	cmd.Flags().StringVarP(&f.query, "query", "q", "", `selection the result answers, e.g. "person:Hannibal, place:Cannae"`)
	cmd.Flags().StringVar(&f.field, "field", "", "treat every query token as a value of this field")

	cmd.Flags().Float64("height", pipeline.DefaultHeight, "drawing height")
	cmd.Flags().Int("margin-slots", pipeline.DefaultMarginSlots, "empty slot-heights around the lanes")
	cmd.Flags().String("ordering", pipeline.DefaultOrdering, "lane ordering: barycentric, identity")
	configFlag(cmd.Flags(), "height", "layout.height")
	configFlag(cmd.Flags(), "margin-slots", "layout.margin_slots")
	configFlag(cmd.Flags(), "ordering", "layout.ordering")

	return cmd
}

// runLayout decodes the result, lays it out, and writes the layout JSON.
func (c *CLI) runLayout(ctx context.Context, input string, f layoutFlags) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read result: %w", err)
	}
	res, err := query.DecodeResult(data, query.FormatFromPath(input))
	if err != nil {
		return fmt.Errorf("load result %s: %w", input, err)
	}
	if res.Failed() {
		return res.Err()
	}

	runner, err := c.newRunner(ctx, f.noCache)
	if err != nil {
		return fmt.Errorf("initialize runner: %w", err)
	}
	defer runner.Close()

	logger := loggerFromContext(ctx)
	opts := f.opts
	opts.Logger = logger
	refs := query.Parse(f.query)
	opts.View = query.BuildView(refs, f.field, c.Config.Query.ClusterField)
	if opts.View != nil {
		opts.Status = res.Status(query.ValueCount(refs))
	}

	prog := newProgress(logger)
	spinner := newSpinnerWithContext(ctx, "Computing layout...")
	spinner.Start()
	result, err := runner.Execute(ctx, res.Timeline, opts)
	if err != nil {
		spinner.StopWithError("Layout failed")
		return fmt.Errorf("compute layout: %w", err)
	}
	spinner.Stop()
	prog.done(fmt.Sprintf("Laid out %d entities", result.Stats.Entities))

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if f.output == "-" {
		_, err := os.Stdout.Write(append(result.Artifact, '\n'))
		return err
	}
	outputPath := f.output
	if outputPath == "" {
		base := strings.TrimSuffix(input, filepath.Ext(input))
		outputPath = base + ".layout.json"
	}
	if err := os.WriteFile(outputPath, result.Artifact, 0o644); err != nil {
		return fmt.Errorf("write output %s: %w", outputPath, err)
	}

	printSuccess("Layout complete")
	printFile(outputPath)
	printStats(result.Stats, result.CacheHit)
	printNewline()
	printNextStep("Explore", fmt.Sprintf("%s inspect %s", appName, input))

	return nil
}
