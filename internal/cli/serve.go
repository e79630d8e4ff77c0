package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/storyline/pkg/annotate"
	"github.com/matzehuels/storyline/pkg/query"
	"github.com/matzehuels/storyline/pkg/server"
	"github.com/matzehuels/storyline/pkg/session"
)

// serveCommand creates the serve command for the HTTP API.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		noCache    bool
		sessionTTL time.Duration
		baseURL    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the storyline HTTP API",
		Long: `Serve the storyline HTTP API.

Layout, query and annotation routes are always available. Widget sessions
are served when a search backend is configured (query.backend_url).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runner, err := c.newRunner(ctx, noCache)
			if err != nil {
				return err
			}
			defer runner.Close()

			var src query.Source
			if c.Config.Query.BackendURL != "" {
				hs, err := c.newSource(0)
				if err != nil {
					return err
				}
				src = hs
			} else {
				c.Logger.Warn("no search backend configured, session routes disabled")
			}

			lopts := c.Config.LayoutOptions()
			lopts.Logger = c.Logger
			srv := server.New(runner, server.Options{
				RateLimit:       c.Config.Server.RateLimit,
				Burst:           c.Config.Server.Burst,
				ClusterField:    c.Config.Query.ClusterField,
				Layout:          lopts,
				Source:          src,
				SessionTTL:      sessionTTL,
				AnnotateBaseURL: baseURL,
				Logger:          c.Logger,
			})
			return srv.ListenAndServe(ctx, c.Config.Server.Addr)
		},
	}

	cmd.Flags().String("addr", "", "listen address (default :8080)")
	cmd.Flags().Float64("rate-limit", 0, "requests per second per client, 0 disables limiting")
	cmd.Flags().Int("burst", 0, "request burst per client")
	cmd.Flags().String("backend", "", "search backend URL")
	configFlag(cmd.Flags(), "addr", "server.addr")
	configFlag(cmd.Flags(), "rate-limit", "server.rate_limit")
	configFlag(cmd.Flags(), "burst", "server.burst")
	configFlag(cmd.Flags(), "backend", "query.backend_url")

	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable caching")
	cmd.Flags().DurationVar(&sessionTTL, "session-ttl", session.DefaultIdleTTL, "close sessions idle for this long")
	cmd.Flags().StringVar(&baseURL, "link-base", annotate.DefaultBaseURL, "base URL for relative entity links")
	return cmd
}
