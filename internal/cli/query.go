package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/matzehuels/storyline/pkg/errors"
	"github.com/matzehuels/storyline/pkg/pipeline"
	"github.com/matzehuels/storyline/pkg/query"
)

// queryCommand creates the query command group.
func (c *CLI) queryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Work with manual queries and backend views",
		Long: `Work with manual queries and backend views.

A manual query is a comma-separated list of field:value pairs, for example
"person:Hannibal, place:Cannae". Tokens without a colon are kept but never
match an entity.`,
	}
	cmd.AddCommand(c.queryParseCommand())
	cmd.AddCommand(c.queryViewCommand())
	cmd.AddCommand(c.queryFetchCommand())
	return cmd
}

func (c *CLI) queryParseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <query>",
		Short: "Show how a manual query is tokenized",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs := query.Parse(args[0])
			rows := make([][]string, len(refs))
			for i, r := range refs {
				value := r.Value
				if !r.HasValue {
					value = StyleDim.Render("(none)")
				}
				rows[i] = []string{fmt.Sprint(i + 1), r.Field, value}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"#", "Field", "Value"}, rows))
			fmt.Fprintln(out, StyleDim.Render("normalized: ")+StyleValue.Render(query.Unparse(refs)))
			if n := query.ValueCount(refs); n < len(refs) {
				fmt.Fprintln(out, StyleWarning.Render(fmt.Sprintf("%d token(s) without a value are ignored", len(refs)-n)))
			}
			return nil
		},
	}
}

func (c *CLI) queryViewCommand() *cobra.Command {
	var field string
	cmd := &cobra.Command{
		Use:   "view <query>",
		Short: "Print the backend view for a manual query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view := query.BuildView(query.Parse(args[0]), field, c.Config.Query.ClusterField)
			if view == nil {
				return errors.New(errors.ErrCodeInvalidQuery, "query %q selects no entities", args[0])
			}
			return writeJSON(cmd, view)
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "treat every query token as a value of this field")
	cmd.Flags().String("cluster-field", pipeline.DefaultClusterField, "backend field clusters are built from")
	configFlag(cmd.Flags(), "cluster-field", "query.cluster_field")
	return cmd
}

func (c *CLI) queryFetchCommand() *cobra.Command {
	var (
		field   string
		output  string
		noCache bool
		rps     float64
	)
	cmd := &cobra.Command{
		Use:   "fetch <query>",
		Short: "Ask the search backend for the timeline of a query",
		Long: `Ask the search backend for the timeline of a query.

The backend URL comes from query.backend_url in the config file, the
STORYLINE_QUERY_BACKEND_URL environment variable or --backend. Successful
results are cached.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view := query.BuildView(query.Parse(args[0]), field, c.Config.Query.ClusterField)
			if view == nil {
				return errors.New(errors.ErrCodeInvalidQuery, "query %q selects no entities", args[0])
			}
			src, err := c.newSource(rps)
			if err != nil {
				return err
			}
			return c.runFetch(cmd, src, view, output, noCache)
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "treat every query token as a value of this field")
	cmd.Flags().StringVarP(&output, "output", "o", "-", `output file, "-" for stdout`)
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable caching")
	cmd.Flags().Float64Var(&rps, "rps", 0, "limit backend requests per second (0: unlimited)")
	cmd.Flags().String("backend", "", "search backend URL")
	configFlag(cmd.Flags(), "backend", "query.backend_url")
	return cmd
}

// newSource returns the HTTP source for the configured backend.
func (c *CLI) newSource(rps float64) (*query.HTTPSource, error) {
	url := c.Config.Query.BackendURL
	if url == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "no search backend configured (set query.backend_url or --backend)")
	}
	src := query.NewHTTPSource(url)
	if t := c.Config.Query.Timeout.Duration; t > 0 {
		src.Client.Timeout = t
	}
	if rps > 0 {
		src.Limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return src, nil
}

func (c *CLI) runFetch(cmd *cobra.Command, src query.Source, view *query.View, output string, noCache bool) error {
	ctx := cmd.Context()
	runner, err := c.newRunner(ctx, noCache)
	if err != nil {
		return fmt.Errorf("initialize runner: %w", err)
	}
	defer runner.Close()

	prog := newProgress(loggerFromContext(ctx))
	spinner := newSpinnerWithContext(ctx, "Querying backend...")
	spinner.Start()
	res, hit, err := runner.Fetch(ctx, src, view, nil)
	spinner.Stop()
	if err != nil {
		return err
	}
	if res.Failed() {
		return res.Err()
	}
	prog.done(fmt.Sprintf("Fetched %d fields (cached: %t)", len(res.Timeline), hit))

	if output == "-" {
		return writeJSON(cmd, res)
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write output %s: %w", output, err)
	}
	printSuccess("Fetched timeline")
	printFile(output)
	printNextStep("Lay out", fmt.Sprintf("%s layout %s", appName, output))
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
